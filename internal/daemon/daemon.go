//go:build linux

// Package daemon is the composition root: it loads the catalog and
// mapping, builds every component (C1-C10), wires them together, and
// registers each as a feature.Feature so the Feature Manager drives a
// single coordinated startup and shutdown.
package daemon

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coachlink/rvcd/internal/api"
	"github.com/coachlink/rvcd/internal/broadcast"
	"github.com/coachlink/rvcd/internal/catalog"
	"github.com/coachlink/rvcd/internal/config"
	"github.com/coachlink/rvcd/internal/diagnostics"
	"github.com/coachlink/rvcd/internal/dispatcher"
	"github.com/coachlink/rvcd/internal/entitystore"
	"github.com/coachlink/rvcd/internal/feature"
	"github.com/coachlink/rvcd/internal/mapping"
	"github.com/coachlink/rvcd/internal/protocols/firefly"
	"github.com/coachlink/rvcd/internal/protocols/j1939"
	"github.com/coachlink/rvcd/internal/protocols/spartank2"
	"github.com/coachlink/rvcd/internal/transport"
)

// DefaultObservedCapacity bounds each of the unmapped/unknown-traffic
// tables exposed on the diagnostic endpoints.
const DefaultObservedCapacity = 4096

// ProtocolRosters supplies the coach-specific sibling-protocol
// configuration the closed X_-prefixed environment schema has no group
// for (spec.md §6 names only server/can/features/logging); the
// composition root's caller (cmd/rvcd) supplies this from CLI flags
// instead, the same way the teacher layers flags over its own
// environment-driven NetworkConfig.
type ProtocolRosters struct {
	J1939SourceAddresses     []uint8
	FireflyPGNRanges         [][2]uint32
	SpartanK2SourceAddresses []uint8
}

// Config bundles everything New needs to build a Daemon.
type Config struct {
	Logger      *slog.Logger
	CatalogPath string
	MappingPath string
	Runtime     config.Config
	Protocols   ProtocolRosters
}

// Daemon owns every long-lived component and the Feature Manager that
// coordinates their lifecycle.
type Daemon struct {
	log      *slog.Logger
	features *feature.Manager
}

// New constructs every component named in Config and registers it with
// the Feature Manager, but does not start anything; call Start to bring
// the pipeline up.
func New(cfg Config) (*Daemon, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("daemon: load catalog: %w", err)
	}

	mp, err := mapping.Load(cfg.MappingPath, cat)
	if err != nil {
		return nil, fmt.Errorf("daemon: load mapping: %w", err)
	}

	unmapped := mapping.NewObservedTable(DefaultObservedCapacity)
	unknown := mapping.NewObservedTable(DefaultObservedCapacity)

	broadcaster := broadcast.New(log, mp)
	diag := diagnostics.New(broadcaster)

	store := entitystore.New(mp, entitystore.Config{
		Logger: log,
		Sink:   broadcaster,
	})

	protocols := []dispatcher.DecoderCapability{
		j1939.New(cfg.Protocols.J1939SourceAddresses),
		firefly.New(cfg.Protocols.FireflyPGNRanges),
		spartank2.New(cfg.Protocols.SpartanK2SourceAddresses),
	}

	disp := dispatcher.New(dispatcher.Config{
		Logger:      log,
		Catalog:     cat,
		Mapping:     mp,
		Store:       store,
		RawSink:     broadcaster,
		Diagnostics: &diagnosticsSink{table: diag},
		Protocols:   protocols,
	}, unmapped, unknown)

	ifaces := interfaceConfigs(cfg.Runtime.CAN)
	tr := transport.New(log, transport.NewDefaultAdmin(), ifaces)

	apiServer := api.New(api.Config{
		Logger:      log,
		Mapping:     mp,
		Entities:    store,
		Commands:    store,
		Submitter:   tr,
		Transport:   &transportInfoAdapter{t: tr},
		Diagnostics: diag,
		Broadcaster: broadcaster,
		Unmapped:    unmapped,
		Unknown:     unknown,
	})
	addr := fmt.Sprintf("%s:%d", cfg.Runtime.Server.Host, cfg.Runtime.Server.Port)
	httpSrv := api.NewHTTPServer(apiServer, addr)

	fm := feature.New(log)
	fm.Register("entitystore", &runnerFeature{r: store}, nil, nil, true)
	fm.Register("broadcaster", &runnerFeature{r: broadcaster}, nil, nil, true)
	fm.Register("dispatcher", &dispatcherFeature{d: disp, inbound: tr.Inbound()},
		[]string{"entitystore", "broadcaster"}, []string{"entitystore"}, true)
	fm.Register("transport", &transportFeature{t: tr}, []string{"dispatcher"}, nil, true)
	fm.Register("api", httpSrv, []string{"entitystore", "broadcaster", "transport"}, nil, true)
	fm.ApplyOverrides(cfg.Runtime.Features)

	if err := fm.Resolve(); err != nil {
		return nil, fmt.Errorf("daemon: resolve feature graph: %w", err)
	}

	return &Daemon{log: log, features: fm}, nil
}

// interfaceConfigs turns the runtime CAN config's physical interface list
// and logical-name overrides into transport.InterfaceConfig entries. A
// physical interface with no entry in InterfaceMappings uses its own name
// as the logical name.
func interfaceConfigs(can config.CANConfig) []transport.InterfaceConfig {
	logicalByPhysical := make(map[string]string, len(can.InterfaceMappings))
	for logical, physical := range can.InterfaceMappings {
		logicalByPhysical[physical] = logical
	}
	out := make([]transport.InterfaceConfig, 0, len(can.Interfaces))
	for _, phys := range can.Interfaces {
		logical, ok := logicalByPhysical[phys]
		if !ok {
			logical = phys
		}
		out = append(out, transport.InterfaceConfig{LogicalName: logical, Physical: phys})
	}
	return out
}

// Start brings every component up in dependency order.
func (d *Daemon) Start(ctx context.Context) error {
	return d.features.Start(ctx)
}

// Stop shuts every component down in reverse dependency order.
func (d *Daemon) Stop(ctx context.Context) {
	d.features.Stop(ctx)
}

// Statuses reports the current lifecycle/health of every registered
// feature.
func (d *Daemon) Statuses() []feature.Status {
	return d.features.Statuses()
}
