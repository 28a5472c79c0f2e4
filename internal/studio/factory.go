package studio

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"genpool/internal/browser"
	"genpool/internal/manager"
	"genpool/pkg/types"
)

// FactoryOptions configures NewFactory.
type FactoryOptions struct {
	// Driver opens browser sessions. It may be nil when only simulated
	// instances are used.
	Driver    *browser.Driver
	Simulated SimulatedOptions
	Logger    *zerolog.Logger
}

// NewFactory returns the manager.ClientFactory for all supported services.
func NewFactory(opts FactoryOptions) manager.ClientFactory {
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return func(kind types.ServiceKind, instanceID string) (manager.Client, error) {
		clog := log.With().Str("service", string(kind)).Str("instance_id", instanceID).Logger()
		switch kind {
		case types.ServiceSimulated:
			return NewSimulated(opts.Simulated), nil
		case types.ServiceAIStudio:
			open, err := opener(opts.Driver, kind, instanceID)
			if err != nil {
				return nil, err
			}
			return NewAIStudio(open, clog), nil
		case types.ServiceDoubao:
			open, err := opener(opts.Driver, kind, instanceID)
			if err != nil {
				return nil, err
			}
			return NewDoubao(open, clog), nil
		case types.ServiceGrok:
			open, err := opener(opts.Driver, kind, instanceID)
			if err != nil {
				return nil, err
			}
			return NewGrok(open, clog), nil
		default:
			return nil, fmt.Errorf("unsupported service %q", kind)
		}
	}
}

func opener(d *browser.Driver, kind types.ServiceKind, instanceID string) (Opener, error) {
	if d == nil {
		return nil, fmt.Errorf("service %s needs a browser driver", kind)
	}
	return func(ctx context.Context) (page, error) {
		s, err := d.Open(ctx, string(kind), instanceID)
		if err != nil {
			return nil, err
		}
		return s, nil
	}, nil
}

// Kinds lists the services the factory can build.
func Kinds() []types.ServiceKind {
	return []types.ServiceKind{types.ServiceAIStudio, types.ServiceDoubao, types.ServiceGrok, types.ServiceSimulated}
}
