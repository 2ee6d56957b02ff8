package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/itchyny/gojq"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

// printResult writes v as JSON when --json or --jq is set, otherwise it
// calls human.
func printResult(c *cli.Context, v interface{}, human func(w io.Writer)) error {
	w := c.App.Writer
	if filter := c.String("jq"); filter != "" {
		code, err := compileJQ(filter)
		if err != nil {
			return err
		}
		return runJQ(w, code, v)
	}
	if c.Bool("json") {
		return outputJSON(w, v)
	}
	human(w)
	return nil
}

func compileJQ(filter string) (*gojq.Code, error) {
	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
	}
	return code, nil
}

// toJQInput round-trips v through JSON so gojq sees plain maps and slices.
func toJQInput(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func runJQ(w io.Writer, code *gojq.Code, v interface{}) error {
	input, err := toJQInput(v)
	if err != nil {
		return err
	}
	iter := code.Run(input)
	for {
		result, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, ok := result.(error); ok {
			return fmt.Errorf("jq: %w", err)
		}
		if s, ok := result.(string); ok {
			fmt.Fprintln(w, s)
			continue
		}
		if err := outputJSON(w, result); err != nil {
			return err
		}
	}
}

// matchJQ reports whether code yields a truthy first result for v.
func matchJQ(code *gojq.Code, v interface{}) (bool, error) {
	input, err := toJQInput(v)
	if err != nil {
		return false, err
	}
	result, ok := code.Run(input).Next()
	if !ok {
		return false, nil
	}
	if err, ok := result.(error); ok {
		return false, fmt.Errorf("jq: %w", err)
	}
	return isTruthy(result), nil
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseAmount converts a decimal display amount into base units.
func parseAmount(raw string, decimals uint8) (uint64, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	d = d.Shift(int32(decimals))
	if !d.IsInteger() {
		return 0, fmt.Errorf("amount %q has more than %d decimal places", raw, decimals)
	}
	if d.Sign() <= 0 {
		return 0, fmt.Errorf("amount must be positive, got %q", raw)
	}
	n := d.BigInt()
	if !n.IsUint64() {
		return 0, fmt.Errorf("amount %q is out of range", raw)
	}
	return n.Uint64(), nil
}
