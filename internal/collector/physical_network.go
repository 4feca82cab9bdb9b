package collector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"landscaper/internal/domain"
	"landscaper/internal/hub"
	"landscaper/internal/loader"
	"landscaper/internal/store"
)

// PhysicalNetworkName is the configuration name of the switch collector
const PhysicalNetworkName = "physical_network"

var switchIdentity = domain.Attributes{
	domain.KeyType:     "switch",
	domain.KeyLayer:    string(domain.LayerPhysical),
	domain.KeyCategory: string(domain.CategoryNetwork),
}

// PhysicalNetwork adds the switches of a static network description and
// connects the devices listed under each switch.
type PhysicalNetwork struct {
	store  *store.Store
	path   string
	logger *zap.Logger
}

// NewPhysicalNetwork creates the switch collector
func NewPhysicalNetwork(deps Deps) (Collector, error) {
	return &PhysicalNetwork{
		store:  deps.Store,
		path:   deps.Config.PhysicalNetwork.DescriptionFile,
		logger: deps.logger(PhysicalNetworkName),
	}, nil
}

// Name implements Collector
func (p *PhysicalNetwork) Name() string { return PhysicalNetworkName }

// Events implements Collector
func (p *PhysicalNetwork) Events() []string { return nil }

// Init adds every switch first so switch-to-switch links resolve, then
// connects the devices.
func (p *PhysicalNetwork) Init(ctx context.Context) error {
	desc, err := loader.LoadNetworkDescription(p.path)
	if err != nil {
		return err
	}
	p.logger.Info("adding physical network", zap.Int("switches", len(desc)))

	ts := p.store.Now()
	for _, id := range desc.SwitchIDs() {
		if _, err := p.store.AddNode(ctx, id, switchIdentity, desc[id].State(), ts); err != nil {
			return fmt.Errorf("failed to add switch %s: %w", id, err)
		}
	}
	for _, id := range desc.SwitchIDs() {
		if err := p.connect(ctx, id, desc[id], ts); err != nil {
			return err
		}
	}
	return nil
}

// Update implements Collector. The description is static.
func (p *PhysicalNetwork) Update(context.Context, hub.Event) error { return nil }

func (p *PhysicalNetwork) connect(ctx context.Context, id string, sw *loader.SwitchYAML, ts int64) error {
	switchRef, err := p.store.GetNodeByUUID(ctx, id)
	if err != nil {
		return err
	}
	for _, addr := range sw.Devices() {
		device, err := p.device(ctx, addr, ts)
		if err != nil {
			return err
		}
		if device == nil {
			p.logger.Warn("could not connect device to switch",
				zap.String("device", addr), zap.String("switch", id))
			continue
		}
		if _, err := p.store.AddEdge(ctx, device, switchRef, ts, domain.LabelCommunicates); err != nil {
			return fmt.Errorf("failed to connect %s to %s: %w", device.ID, id, err)
		}
	}
	return nil
}

// device resolves a hardware address to the component owning the interface
// that carries it. For switches the switch itself is the device.
func (p *PhysicalNetwork) device(ctx context.Context, addr string, ts int64) (*domain.EntityRef, error) {
	nodes, err := p.store.GetNodesByProperties(ctx, domain.Attributes{"address": addr})
	if err != nil {
		return nil, err
	}
	for i := range nodes {
		if nodes[i].Type == "switch" {
			return &nodes[i], nil
		}
		preds, err := p.store.Predecessors(ctx, nodes[i].ID, ts)
		if err != nil {
			return nil, err
		}
		if len(preds) > 0 {
			return &preds[0], nil
		}
	}
	return nil, nil
}
