// ABOUTME: Minimal flag parsing for CLI subcommands
// ABOUTME: Accepts --name value, --name=value and boolean switches, rejecting unknown flags

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/2389/pulsar-gateway/internal/keys"
	"github.com/2389/pulsar-gateway/internal/store"
)

type cmdArgs struct {
	values     map[string]string
	switches   map[string]bool
	positional []string
}

// parseArgs parses args against the flags a command accepts. Names in
// valueFlags take an argument; names in switchFlags do not.
func parseArgs(args []string, valueFlags, switchFlags []string) (*cmdArgs, error) {
	isValue := make(map[string]bool, len(valueFlags))
	for _, f := range valueFlags {
		isValue[f] = true
	}
	isSwitch := make(map[string]bool, len(switchFlags))
	for _, f := range switchFlags {
		isSwitch[f] = true
	}

	out := &cmdArgs{values: map[string]string{}, switches: map[string]bool{}}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			out.positional = append(out.positional, arg)
			continue
		}

		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		switch {
		case isSwitch[name]:
			if hasValue {
				return nil, fmt.Errorf("--%s does not take a value", name)
			}
			out.switches[name] = true
		case isValue[name]:
			if !hasValue {
				if i+1 >= len(args) {
					return nil, fmt.Errorf("--%s requires a value", name)
				}
				value = args[i+1]
				i++
			}
			out.values[name] = value
		default:
			return nil, fmt.Errorf("unknown flag: --%s", name)
		}
	}
	return out, nil
}

func (a *cmdArgs) has(name string) bool {
	_, ok := a.values[name]
	return ok
}

func (a *cmdArgs) required(name string) (string, error) {
	v, ok := a.values[name]
	if !ok || v == "" {
		return "", fmt.Errorf("--%s is required", name)
	}
	return v, nil
}

// amount parses a decimal amount flag into base units.
func (a *cmdArgs) amount(name string) (uint64, error) {
	v, err := a.required(name)
	if err != nil {
		return 0, err
	}
	units, err := store.ParseAmount(v)
	if err != nil {
		return 0, fmt.Errorf("--%s: %w", name, err)
	}
	return units, nil
}

// key parses an optional hex key flag; absent yields the zero key.
func (a *cmdArgs) key(name string) (keys.PublicKey, error) {
	v, ok := a.values[name]
	if !ok {
		return keys.PublicKey{}, nil
	}
	k, err := keys.ParsePublicKey(v)
	if err != nil {
		return keys.PublicKey{}, fmt.Errorf("--%s: %w", name, err)
	}
	return k, nil
}

func (a *cmdArgs) uint(name string) (uint64, error) {
	v, ok := a.values[name]
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("--%s: %w", name, err)
	}
	return n, nil
}
