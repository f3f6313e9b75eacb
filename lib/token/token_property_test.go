// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// rawTokenGen produces strings dense in separators, escapes and
// whitespace, which is where the quoting rules matter.
func rawTokenGen() gopter.Gen {
	alphabet := []string{"a", "b", "/", "=", `\`, " ", "\t", "x"}
	return gen.SliceOf(gen.IntRange(0, len(alphabet)-1)).Map(func(picks []int) string {
		var builder strings.Builder
		for _, pick := range picks {
			builder.WriteString(alphabet[pick])
		}
		return builder.String()
	})
}

func TestParseStringRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 2000
	properties := gopter.NewProperties(parameters)

	properties.Property("Parse(Parse(raw).String()) == Parse(raw)", prop.ForAll(
		func(raw string) bool {
			first, err := Parse(raw)
			if err != nil {
				return true
			}
			second, err := Parse(first.String())
			if err != nil {
				t.Logf("re-parse of %q (from %q) failed: %v", first.String(), raw, err)
				return false
			}
			if diff := cmp.Diff(first, second); diff != "" {
				t.Logf("raw %q formatted %q:\n%s", raw, first.String(), diff)
				return false
			}
			return true
		},
		rawTokenGen(),
	))

	properties.TestingRun(t)
}
