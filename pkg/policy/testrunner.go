package policy

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// TestSuite is the document shape of a policy test file.
type TestSuite struct {
	Tests []TestCase `yaml:"tests"`
}

// TestCase checks one decision.
type TestCase struct {
	Name   string    `yaml:"name"`
	Input  TestInput `yaml:"input"`
	Expect string    `yaml:"expect"`
}

// TestInput is the intent triple a test feeds through Decide.
type TestInput struct {
	Server string `yaml:"server"`
	Tool   string `yaml:"tool"`
	Env    string `yaml:"env"`
}

// ParseTestSuite decodes a YAML test suite.
func ParseTestSuite(data []byte) (*TestSuite, error) {
	var suite TestSuite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("failed to parse test suite: %w", err)
	}
	return &suite, nil
}

// RunTests evaluates every test through Decide and returns the number
// of failures plus a per-test report line.
func RunTests(cfg *Config, suite *TestSuite) (int, []string) {
	fails := 0
	lines := make([]string, 0, len(suite.Tests))

	for _, tc := range suite.Tests {
		name := tc.Name
		if name == "" {
			name = "<unnamed>"
		}

		got := cfg.Decide(tc.Input.Server, tc.Input.Tool, tc.Input.Env).Decision
		if got == tc.Expect {
			lines = append(lines, fmt.Sprintf("ok   %s  (%s.%s env=%s) => %s",
				name, tc.Input.Server, tc.Input.Tool, tc.Input.Env, got))
			continue
		}
		fails++
		lines = append(lines, fmt.Sprintf("FAIL %s  (%s.%s env=%s) => got %s, expected %s",
			name, tc.Input.Server, tc.Input.Tool, tc.Input.Env, got, tc.Expect))
	}

	return fails, lines
}
