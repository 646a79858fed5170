package command

import (
	"context"
	"errors"
	"strings"

	"github.com/jrife/plover/protocol"
	"github.com/jrife/plover/storage/txn"
	"github.com/jrife/plover/utils/log"
	"go.uber.org/zap"
)

// ErrInvalidCommand indicates input that does not match any command
// shape: empty input, an unknown verb, or the wrong number of tokens
var ErrInvalidCommand = errors.New("Invalid command")

// ProcessorConfig contains configuration for a command processor
type ProcessorConfig struct {
	// Logger is the logger used by the processor
	Logger *zap.Logger
	// Engine executes reads and writes with transaction awareness
	Engine *txn.Engine
}

// Processor turns one line of command text into a typed outcome. It
// owns tokenization and dispatch; typing and validation belong to the
// protocol package and state changes to the transaction engine.
type Processor struct {
	logger *zap.Logger
	engine *txn.Engine
}

// New creates a command processor
func New(config ProcessorConfig) *Processor {
	processor := &Processor{
		logger: config.Logger,
		engine: config.Engine,
	}

	if processor.logger == nil {
		processor.logger = zap.L()
	}

	return processor
}

// tokenize trims outer whitespace and splits on the first two ASCII
// spaces. The three-part split leaves spaces and quotes inside the
// third token untouched so a quoted SET value reaches the value
// parser unchanged.
func tokenize(text string) []string {
	text = strings.TrimSpace(text)

	if text == "" {
		return nil
	}

	return strings.SplitN(text, " ", 3)
}

// Execute parses and executes one command on behalf of client
func (processor *Processor) Execute(ctx context.Context, text string, client string) (protocol.Outcome, error) {
	logger := log.WithContext(ctx, processor.logger)
	tokens := tokenize(text)

	switch {
	case len(tokens) == 3 && tokens[0] == "SET":
		return processor.set(ctx, client, tokens[1], tokens[2])
	case len(tokens) == 2 && tokens[0] == "GET":
		return processor.get(ctx, client, tokens[1])
	case len(tokens) == 1 && tokens[0] == "BEGIN":
		if err := processor.engine.Begin(ctx, client); err != nil {
			return nil, err
		}

		return protocol.OKResult{}, nil
	case len(tokens) == 1 && tokens[0] == "COMMIT":
		if err := processor.engine.Commit(ctx, client); err != nil {
			return nil, err
		}

		return protocol.OKResult{}, nil
	case len(tokens) == 1 && tokens[0] == "ROLLBACK":
		if err := processor.engine.Rollback(ctx, client); err != nil {
			return nil, err
		}

		return protocol.OKResult{}, nil
	}

	logger.Debug("unrecognized command shape", zap.Int("tokens", len(tokens)))

	return nil, ErrInvalidCommand
}

func (processor *Processor) set(ctx context.Context, client string, rawKey string, rawValue string) (protocol.Outcome, error) {
	key, err := protocol.ParseKey(rawKey)

	if err != nil {
		return nil, err
	}

	value, err := protocol.ParseValue(rawValue)

	if err != nil {
		return nil, err
	}

	old, hadOld, err := processor.engine.Set(ctx, client, key, value)

	if err != nil {
		return nil, err
	}

	if !hadOld {
		old = protocol.Nil()
	}

	return protocol.SetResult{Old: old, New: value}, nil
}

func (processor *Processor) get(ctx context.Context, client string, rawKey string) (protocol.Outcome, error) {
	key, err := protocol.ParseKey(rawKey)

	if err != nil {
		return nil, err
	}

	value, found, err := processor.engine.Get(ctx, client, key)

	if err != nil {
		return nil, err
	}

	if !found {
		value = protocol.Nil()
	}

	return protocol.ValueResult{Value: value}, nil
}
