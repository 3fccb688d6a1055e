package id

import "fmt"

// Strategy names accepted by New.
const (
	StrategyUUID   = "uuid"
	StrategyULID   = "ulid"
	StrategyKSUID  = "ksuid"
	StrategyNanoID = "nanoid"
)

// Generator defines the interface for ID generation and validation.
type Generator interface {
	Generate() (string, error)
	Validate(id string) (bool, string) // (valid, reason)
}

// New creates a Generator for the given strategy. An empty strategy
// selects UUID.
func New(strategy string) (Generator, error) {
	switch strategy {
	case StrategyUUID, "":
		return NewUUIDGenerator(), nil
	case StrategyULID:
		return NewULIDGenerator(), nil
	case StrategyKSUID:
		return NewKSUIDGenerator(), nil
	case StrategyNanoID:
		return NewNanoIDGenerator(DefaultNanoIDSize, DefaultNanoIDAlphabet)
	default:
		return nil, fmt.Errorf("unknown id strategy: %s", strategy)
	}
}
