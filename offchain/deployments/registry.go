// Package deployments reads deployments.json, which pins the program ids and
// Arcium cluster for each named environment of the API.
package deployments

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cypherpunk-tipjar/tipjar/offchain/solana"
)

const SchemaVersion = 1

var (
	ErrNotFound        = errors.New("deployment not found")
	ErrInvalidRegistry = errors.New("invalid deployments registry")
)

type Registry struct {
	SchemaVersion int          `json:"schema_version"`
	Deployments   []Deployment `json:"deployments"`
}

// Deployment is one environment. Empty fields fall back to configured
// defaults.
type Deployment struct {
	Name    string `json:"name"`
	Cluster string `json:"cluster,omitempty"`
	RPCURL  string `json:"rpc_url,omitempty"`

	DonationAddress string `json:"donation_address,omitempty"`
	TipjarProgramID string `json:"tipjar_program_id,omitempty"`

	MXEProgramID     string `json:"mxe_program_id,omitempty"`
	MXEAccount       string `json:"mxe_account,omitempty"`
	ArciumProgramID  string `json:"arcium_program_id,omitempty"`
	ArciumClusterOff uint32 `json:"arcium_cluster_offset,omitempty"`
	ExecutingPool    string `json:"executing_pool,omitempty"`
}

// Load reads and validates the registry at path.
func Load(path string) (Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Registry{}, errors.New("deployments path required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Registry{}, err
	}
	var reg Registry
	if err := json.Unmarshal(raw, &reg); err != nil {
		return Registry{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := reg.Validate(); err != nil {
		return Registry{}, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// Validate checks the schema version, name uniqueness, and that every
// address field present is a valid public key.
func (r Registry) Validate() error {
	if r.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: schema_version %d, want %d", ErrInvalidRegistry, r.SchemaVersion, SchemaVersion)
	}
	seen := make(map[string]bool, len(r.Deployments))
	var errs []error
	for i, d := range r.Deployments {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("deployments[%d]: name required", i))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("deployments[%d]: duplicate name %q", i, name))
		}
		seen[name] = true
		for field, v := range d.addresses() {
			if v == "" {
				continue
			}
			if _, err := solana.ParsePubkey(v); err != nil {
				errs = append(errs, fmt.Errorf("%s.%s: %w", name, field, err))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidRegistry, errors.Join(errs...))
	}
	return nil
}

func (d Deployment) addresses() map[string]string {
	return map[string]string{
		"donation_address":  d.DonationAddress,
		"tipjar_program_id": d.TipjarProgramID,
		"mxe_program_id":    d.MXEProgramID,
		"mxe_account":       d.MXEAccount,
		"arcium_program_id": d.ArciumProgramID,
		"executing_pool":    d.ExecutingPool,
	}
}

func (r Registry) FindByName(name string) (Deployment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Deployment{}, errors.New("deployment name required")
	}
	for _, d := range r.Deployments {
		if strings.TrimSpace(d.Name) == name {
			return d, nil
		}
	}
	return Deployment{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}

func (r Registry) Names() []string {
	out := make([]string, 0, len(r.Deployments))
	for _, d := range r.Deployments {
		out = append(out, d.Name)
	}
	return out
}
