package policy

import (
	"context"
	"fmt"

	"github.com/BurntSushi/toml"
)

// File is the on-disk form of the policies:
//
//	[earn]
//	min_amount = 1
//	max_amount = 100000
//	max_balance = 10000000
//
//	[expiration]
//	default_days = 365
//	min_days = 1
//	max_days = 1824
//
// Omitted keys keep their defaults.
type File struct {
	Earn struct {
		MinAmount  *int64 `toml:"min_amount"`
		MaxAmount  *int64 `toml:"max_amount"`
		MaxBalance *int64 `toml:"max_balance"`
	} `toml:"earn"`
	Expiration struct {
		DefaultDays *int64 `toml:"default_days"`
		MinDays     *int64 `toml:"min_days"`
		MaxDays     *int64 `toml:"max_days"`
	} `toml:"expiration"`
}

func (f File) values() map[string]int64 {
	out := make(map[string]int64)
	set := func(key string, v *int64) {
		if v != nil {
			out[key] = *v
		}
	}
	set(KeyEarnMinAmount, f.Earn.MinAmount)
	set(KeyEarnMaxAmount, f.Earn.MaxAmount)
	set(KeyBalanceMaxAmount, f.Earn.MaxBalance)
	set(KeyExpirationDefaultDays, f.Expiration.DefaultDays)
	set(KeyExpirationMinDays, f.Expiration.MinDays)
	set(KeyExpirationMaxDays, f.Expiration.MaxDays)
	return out
}

// LoadFile parses a TOML policy file.
func LoadFile(path string) (Policies, error) {
	var f File
	meta, err := toml.DecodeFile(path, &f)
	if err != nil {
		return Policies{}, fmt.Errorf("read policy file %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Policies{}, fmt.Errorf("policy file %s: unknown key %s", path, undecoded[0])
	}
	p, err := FromValues(f.values())
	if err != nil {
		return Policies{}, fmt.Errorf("policy file %s: %w", path, err)
	}
	return p, nil
}

// FileLoader reads the policy file on every Load.
type FileLoader struct {
	Path string
}

func (l FileLoader) Load(context.Context) (Policies, error) { return LoadFile(l.Path) }
