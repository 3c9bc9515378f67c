// internal/dex/registry.go
package dex

import (
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/mev-detector/internal/types"
)

// Well-known DEX program addresses.
const (
	JupiterProgramID = "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4"
	RaydiumProgramID = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"
	OrcaProgramID    = "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc"
	PhoenixProgramID = "PhoeNiXZ8ByJGLkxNfZRnkUfjvmuYqLR89jjFHGqdXY"
	MeteoraProgramID = "LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo"
)

// Program describes one DEX program the parser recognizes.
type Program struct {
	ID        types.DexID
	Name      string
	ProgramID solana.PublicKey
	// Aggregator programs route through other DEXes (Jupiter).
	Aggregator bool
}

// Registry is the lookup table of known DEX programs keyed by program address.
type Registry struct {
	mu      sync.RWMutex
	byKey   map[string]Program
	ordered []Program
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byKey: make(map[string]Program),
	}
}

// DefaultRegistry returns a registry with Jupiter, Raydium, Orca, Phoenix and Meteora.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	defaults := []struct {
		id         types.DexID
		name       string
		address    string
		aggregator bool
	}{
		{types.DexJupiter, "Jupiter", JupiterProgramID, true},
		{types.DexRaydium, "Raydium", RaydiumProgramID, false},
		{types.DexOrca, "Orca", OrcaProgramID, false},
		{types.DexPhoenix, "Phoenix", PhoenixProgramID, false},
		{types.DexMeteora, "Meteora", MeteoraProgramID, false},
	}
	for _, d := range defaults {
		if err := r.Register(d.id, d.name, d.address, d.aggregator); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a program to the table. The address must be a valid base58 public key.
func (r *Registry) Register(id types.DexID, name, address string, aggregator bool) error {
	key, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return fmt.Errorf("invalid program id %q for %s: %w", address, id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byKey[key.String()]; exists {
		return fmt.Errorf("program %s already registered", address)
	}

	p := Program{ID: id, Name: name, ProgramID: key, Aggregator: aggregator}
	r.byKey[key.String()] = p
	r.ordered = append(r.ordered, p)
	return nil
}

// Lookup returns the program registered at address.
func (r *Registry) Lookup(address string) (Program, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byKey[address]
	return p, ok
}

// Programs returns the registered programs in registration order.
func (r *Registry) Programs() []Program {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Program, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Addresses returns the base58 program addresses in registration order.
func (r *Registry) Addresses() []string {
	programs := r.Programs()
	out := make([]string, 0, len(programs))
	for _, p := range programs {
		out = append(out, p.ProgramID.String())
	}
	return out
}
