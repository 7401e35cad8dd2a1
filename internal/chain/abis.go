package chain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Bundled minimal ABIs. Only the entry points the agent calls are listed.
const (
	Multicall2ABI = `[
		{"type":"function","name":"aggregate","stateMutability":"nonpayable",
		 "inputs":[{"name":"calls","type":"tuple[]","components":[
			{"name":"target","type":"address"},
			{"name":"callData","type":"bytes"}]}],
		 "outputs":[{"name":"blockNumber","type":"uint256"},{"name":"returnData","type":"bytes[]"}]}
	]`

	CometABI = `[
		{"type":"function","name":"isLiquidatable","stateMutability":"view",
		 "inputs":[{"name":"account","type":"address"}],
		 "outputs":[{"name":"","type":"bool"}]},
		{"type":"function","name":"absorb","stateMutability":"nonpayable",
		 "inputs":[{"name":"absorber","type":"address"},{"name":"accounts","type":"address[]"}],
		 "outputs":[]},
		{"type":"event","name":"SupplyCollateral","anonymous":false,
		 "inputs":[
			{"name":"from","type":"address","indexed":true},
			{"name":"dst","type":"address","indexed":true},
			{"name":"asset","type":"address","indexed":true},
			{"name":"amount","type":"uint256","indexed":false}]}
	]`

	LiquidatorABI = `[
		{"type":"function","name":"initFlash","stateMutability":"nonpayable",
		 "inputs":[{"name":"accounts","type":"address[]"}],
		 "outputs":[]}
	]`
)

// ABI names accepted by LoadABI; an override file is <dir>/<name>.json.
const (
	Multicall2 = "Multicall2"
	Comet      = "Comet"
	Liquidator = "Liquidator"
)

var bundled = map[string]string{
	Multicall2: Multicall2ABI,
	Comet:      CometABI,
	Liquidator: LiquidatorABI,
}

// ParseABI parses an ABI JSON array.
func ParseABI(abiJSON string) (*abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// LoadABI returns the named ABI, preferring <dir>/<name>.json when dir is
// set and the file exists. Override files may be a bare ABI array or a
// build artifact with an "abi" field.
func LoadABI(dir, name string) (*abi.ABI, error) {
	fallback, ok := bundled[name]
	if !ok {
		return nil, fmt.Errorf("unknown abi %q", name)
	}
	if dir == "" {
		return ParseABI(fallback)
	}

	path := filepath.Join(dir, name+".json")
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return ParseABI(fallback)
	}
	if err != nil {
		return nil, fmt.Errorf("read abi %s: %w", path, err)
	}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var artifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal(data, &artifact); err != nil {
			return nil, fmt.Errorf("parse artifact %s: %w", path, err)
		}
		data = artifact.ABI
	}
	a, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse abi %s: %w", path, err)
	}
	return &a, nil
}

// ABIs bundles the three contract interfaces the agent uses.
type ABIs struct {
	Multicall  *abi.ABI
	Comet      *abi.ABI
	Liquidator *abi.ABI
}

// LoadABIs loads all three ABIs, applying overrides from dir.
func LoadABIs(dir string) (ABIs, error) {
	var out ABIs
	var err error
	if out.Multicall, err = LoadABI(dir, Multicall2); err != nil {
		return ABIs{}, err
	}
	if out.Comet, err = LoadABI(dir, Comet); err != nil {
		return ABIs{}, err
	}
	if out.Liquidator, err = LoadABI(dir, Liquidator); err != nil {
		return ABIs{}, err
	}
	return out, nil
}
