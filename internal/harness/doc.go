// Package harness runs conversion scenarios through the pipeline and checks
// the result of every step.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: sine_wave
//	description: "What this scenario validates"
//	patterns: false          # true when the pipeline should use catalog patterns
//	flow:
//	  - intent: GENERATE_SOUND
//	    description: "440Hz sine wave"
//	    params: { frequency: 220 }
//	    expect:
//	      structure: SYNTH_DEF
//	      code_type: SYNTH
//	      template: synth_sine
//	      fast_path: false
//	      components: [amplitude, envelope, oscillator, output]
//	      connections: [oscillator->envelope, envelope->amplitude]
//	      contains: ["SinOsc.ar(220"]
//	  - intent: CREATE_CHORD
//	    description: "C major"
//	    expect:
//	      error: "no usable parameters"
//	assertions:
//	  - type: cache_hit
//	    step: 1
//	  - type: same_output
//	    steps: [0, 1]
//	  - type: fast_path_count
//	    count: 0
//
// Expect clauses check one step. Components are compared as a set,
// connections in order, and contains is a substring check on the rendered
// code. A step with expect.error must fail with a message containing it.
//
// # Assertion Types
//
//   - cache_hit: the step was served from every stage cache
//   - same_output: the listed steps rendered identical code
//   - fast_path_count: exactly count steps used a catalog pattern
//
// # Golden Files
//
// RunWithGolden snapshots the rendered code of every step to
// testdata/golden/{name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
