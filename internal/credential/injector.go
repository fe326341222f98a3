// Package credential resolves named credential references to plaintext for
// the duration of a single execution, and zeroizes them afterward.
package credential

import (
	"context"
	"fmt"
	"time"

	"github.com/chaosslabs/personal-automator/internal/store"
	"github.com/chaosslabs/personal-automator/internal/vault"
)

// Injector resolves a set of credential names to plaintext values, backed
// by the Store (metadata + ciphertext) and the Vault (decryption).
type Injector struct {
	store *store.Store
	vault *vault.Vault
}

// New builds an Injector bound to st and vlt.
func New(st *store.Store, vlt *vault.Vault) *Injector {
	return &Injector{store: st, vault: vlt}
}

// Result is the outcome of Inject: either every requested name resolved, or
// Success is false and Missing/Errors explain which didn't and why.
type Result struct {
	Success     bool
	Credentials map[string]string
	Missing     []string
	Errors      []string
}

// Inject resolves names to plaintext following spec §4.4's algorithm:
// dedupe, fetch all ciphertext in one Store call, decrypt each, stamp
// lastUsedAt on success. A credential with metadata but no stored value is
// "missing" with a distinct message from one that doesn't exist at all; a
// decrypt failure is recorded as an error, not a miss, since its metadata
// and ciphertext both exist.
func (inj *Injector) Inject(ctx context.Context, names []string) Result {
	deduped := dedupe(names)
	res := Result{Credentials: make(map[string]string, len(deduped))}
	if len(deduped) == 0 {
		res.Success = true
		return res
	}

	ciphertexts, exists, err := inj.store.Credentials().GetEncryptedValues(ctx, deduped)
	if err != nil {
		for _, name := range deduped {
			res.Missing = append(res.Missing, name)
		}
		res.Errors = append(res.Errors, fmt.Sprintf("lookup failed: %v", err))
		return res
	}

	for _, name := range deduped {
		ct, hasValue := ciphertexts[name]
		switch {
		case !exists[name]:
			res.Missing = append(res.Missing, name)
			res.Errors = append(res.Errors, fmt.Sprintf("%s: not found", name))
		case !hasValue:
			res.Missing = append(res.Missing, name)
			res.Errors = append(res.Errors, fmt.Sprintf("%s: exists but has no value stored", name))
		default:
			plain, err := inj.vault.Decrypt(ct)
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("%s: decrypt failed: %v", name, err))
				continue
			}
			res.Credentials[name] = plain
			_ = inj.store.Credentials().UpdateLastUsed(ctx, name, time.Now().UTC())
		}
	}

	res.Success = len(res.Missing) == 0 && len(res.Errors) == 0
	return res
}

// Validate reports which of names exist and have a stored value, without
// decrypting anything.
func (inj *Injector) Validate(ctx context.Context, names []string) (map[string]bool, error) {
	deduped := dedupe(names)
	ciphertexts, exists, err := inj.store.Credentials().GetEncryptedValues(ctx, deduped)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(deduped))
	for _, name := range deduped {
		out[name] = exists[name] && ciphertexts[name] != ""
	}
	return out, nil
}

// Clear overwrites every value in creds with empty strings and empties the
// map. Best-effort zeroization — Go strings are immutable, so this cannot
// guarantee the original backing bytes are scrubbed from memory, only that
// no reference to the plaintext survives past this call.
func Clear(creds map[string]string) {
	for k := range creds {
		creds[k] = ""
		delete(creds, k)
	}
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
