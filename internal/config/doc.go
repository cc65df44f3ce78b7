// Package config loads and validates cortexmind configuration.
//
// Configuration lives in a YAML file (default ~/.cortexmind/config.yaml) and
// may be overridden by CORTEXMIND_* environment variables, for example
// CORTEXMIND_SPIKING_NEURON_COUNT or CORTEXMIND_RNG_SEED. The engine itself
// never reads files or the environment; callers load a Config here and hand
// it to orchestrator.New.
package config
