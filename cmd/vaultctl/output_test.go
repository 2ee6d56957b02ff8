package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		decimals uint8
		want     uint64
		wantErr  bool
	}{
		{name: "whole units", raw: "2", decimals: 6, want: 2_000_000},
		{name: "fractional", raw: "1.5", decimals: 6, want: 1_500_000},
		{name: "smallest unit", raw: "0.000001", decimals: 6, want: 1},
		{name: "base units", raw: "42", decimals: 0, want: 42},
		{name: "too precise", raw: "0.0000001", decimals: 6, wantErr: true},
		{name: "zero", raw: "0", decimals: 6, wantErr: true},
		{name: "negative", raw: "-1", decimals: 6, wantErr: true},
		{name: "overflow", raw: "18446744073709551616", decimals: 0, wantErr: true},
		{name: "not a number", raw: "abc", decimals: 6, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAmount(tt.raw, tt.decimals)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunJQ(t *testing.T) {
	v := map[string]interface{}{
		"signature": "abc",
		"state":     map[string]interface{}{"status": "success"},
	}

	code, err := compileJQ(".signature")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, runJQ(&buf, code, v))
	assert.Equal(t, "abc\n", buf.String())

	code, err = compileJQ(".state")
	require.NoError(t, err)
	buf.Reset()
	require.NoError(t, runJQ(&buf, code, v))
	assert.JSONEq(t, `{"status":"success"}`, buf.String())
}

func TestCompileJQ_Invalid(t *testing.T) {
	_, err := compileJQ(".[")
	assert.Error(t, err)
}

func TestMatchJQ(t *testing.T) {
	code, err := compileJQ(`.status == "success"`)
	require.NoError(t, err)

	ok, err := matchJQ(code, map[string]string{"status": "success"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = matchJQ(code, map[string]string{"status": "pending"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsTruthy(t *testing.T) {
	assert.False(t, isTruthy(nil))
	assert.False(t, isTruthy(false))
	assert.True(t, isTruthy(true))
	assert.True(t, isTruthy(0))
	assert.True(t, isTruthy(""))
	assert.True(t, isTruthy(map[string]interface{}{}))
}
