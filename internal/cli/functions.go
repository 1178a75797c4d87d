package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/leofalp/polychat/core/broker"
	"github.com/leofalp/polychat/providers/tool/calculator"
	"github.com/leofalp/polychat/providers/tool/duckduckgo"
	"github.com/leofalp/polychat/providers/tool/webfetch"
)

// functionSets maps --functions names to their registration.
var functionSets = map[string]func(*broker.Broker, *slog.Logger) error{
	"calculator": func(b *broker.Broker, _ *slog.Logger) error {
		return calculator.Register(b)
	},
	"webfetch": func(b *broker.Broker, logger *slog.Logger) error {
		return webfetch.New(webfetch.WithLogger(logger)).Register(b)
	},
	"search": func(b *broker.Broker, _ *slog.Logger) error {
		return duckduckgo.Register(b)
	},
}

// buildFunctions returns a broker declaring the named function sets, or nil
// when names is empty.
func buildFunctions(names []string, logger *slog.Logger) (*broker.Broker, error) {
	if len(names) == 0 {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := broker.New(broker.WithLogger(logger))
	for _, name := range names {
		register, ok := functionSets[strings.TrimSpace(name)]
		if !ok {
			return nil, fmt.Errorf("unknown function set %q (available: calculator, webfetch, search)", name)
		}
		if err := register(b, logger); err != nil {
			return nil, err
		}
	}
	return b, nil
}
