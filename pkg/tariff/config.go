package tariff

import (
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
)

// Configured registers the tariff flags and returns the resolver. The file
// is loaded once flags are parsed.
func Configured() *Resolver {
	r := &Resolver{}
	path := lflag.String("tariff-file", "tariff.yaml", "YAML file describing the time of use tariff bands")
	ttl := lflag.Duration("tariff-cache-ttl", 30*time.Minute, "How long resolved rates are cached")

	lflag.Do(func() {
		tou, err := LoadTOU(*path)
		if err != nil {
			panic(fmt.Sprintf("failed to load tariff: %v", err))
		}
		*r = *NewResolver(tou, *ttl)
	})
	return r
}
