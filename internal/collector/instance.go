package collector

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"landscaper/internal/domain"
	"landscaper/internal/hub"
	"landscaper/internal/store"
)

// InstanceName is the configuration name of the virtual machine collector
const InstanceName = "instance"

var (
	instanceIdentity = domain.Attributes{
		domain.KeyLayer:    string(domain.LayerVirtual),
		domain.KeyCategory: string(domain.CategoryCompute),
		domain.KeyType:     "vm",
	}

	instanceAddEvents    = []string{"compute.instance.create.end", "compute.instance.update"}
	instanceDeleteEvents = []string{"compute.instance.delete.end", "compute.instance.shutdown.end"}
	instanceUpdateEvents = []string{
		"compute.instance.resize.revert.end",
		"compute.instance.finish_resize.end",
		"compute.instance.rebuild.end",
		"compute.instance.update",
	}
)

type instancePayload struct {
	InstanceID   string `json:"instance_id"`
	VCPUs        any    `json:"vcpus"`
	MemoryMB     any    `json:"memory_mb"`
	DisplayName  string `json:"display_name"`
	Host         string `json:"host"`
	InstanceName string `json:"instance_name"`
}

func (p instancePayload) state() domain.Attributes {
	return domain.Attributes{
		"vcpu":             p.VCPUs,
		"mem":              p.MemoryMB,
		"vm_name":          p.DisplayName,
		"libvirt_instance": p.InstanceName,
	}
}

// complete reports whether the payload describes a whole instance rather
// than a partial update.
func (p instancePayload) complete() bool {
	return p.InstanceID != "" && p.VCPUs != nil && p.MemoryMB != nil &&
		p.DisplayName != "" && p.Host != ""
}

// Instance tracks virtual machines from compute notifications. Each VM is
// DEPLOYED_ON the machine named by the notification host.
type Instance struct {
	store  *store.Store
	logger *zap.Logger
}

// NewInstance creates the virtual machine collector
func NewInstance(deps Deps) (Collector, error) {
	return &Instance{store: deps.Store, logger: deps.logger(InstanceName)}, nil
}

// Name implements Collector
func (c *Instance) Name() string { return InstanceName }

// Events implements Collector
func (c *Instance) Events() []string {
	events := slices.Concat(instanceAddEvents, instanceDeleteEvents, instanceUpdateEvents)
	slices.Sort(events)
	return slices.Compact(events)
}

// Init implements Collector. Instances are only learned from notifications.
func (c *Instance) Init(context.Context) error {
	c.logger.Info("instances are added as notifications arrive")
	return nil
}

// Update implements Collector
func (c *Instance) Update(ctx context.Context, ev hub.Event) error {
	var p instancePayload
	if err := decodePayload(ev, &p); err != nil {
		c.logger.Warn("dropping notification", zap.String("event", ev.Name), zap.Error(err))
		return nil
	}
	ts := ev.Timestamp()

	if slices.Contains(instanceAddEvents, ev.Name) && p.complete() {
		existing, err := c.store.GetNodeByUUID(ctx, p.InstanceID)
		if err != nil {
			return err
		}
		if existing == nil {
			return c.add(ctx, p, ts)
		}
	}

	switch {
	case slices.Contains(instanceDeleteEvents, ev.Name):
		return c.remove(ctx, p.InstanceID, ts)
	case slices.Contains(instanceUpdateEvents, ev.Name):
		_, err := c.store.UpdateNode(ctx, p.InstanceID, ts, p.state(), nil)
		return err
	}
	return nil
}

func (c *Instance) add(ctx context.Context, p instancePayload, ts int64) error {
	c.logger.Info("adding instance", zap.String("id", p.InstanceID), zap.String("host", p.Host))

	vm, err := c.store.AddNode(ctx, p.InstanceID, instanceIdentity, p.state(), ts)
	if err != nil {
		return err
	}
	machine, err := c.store.GetNodeByUUID(ctx, p.Host)
	if err != nil {
		return err
	}
	if machine == nil {
		c.logger.Warn("instance host not in the landscape", zap.String("id", p.InstanceID), zap.String("host", p.Host))
		return nil
	}
	_, err = c.store.AddEdge(ctx, vm, machine, ts, domain.LabelDeployedOn)
	return err
}

func (c *Instance) remove(ctx context.Context, id string, ts int64) error {
	vm, err := c.store.GetNodeByUUID(ctx, id)
	if err != nil || vm == nil {
		return err
	}
	_, err = c.store.DeleteNode(ctx, vm, ts)
	return err
}
