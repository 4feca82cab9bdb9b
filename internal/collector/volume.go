package collector

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"landscaper/internal/domain"
	"landscaper/internal/hub"
	"landscaper/internal/store"
)

// VolumeName is the configuration name of the block storage collector
const VolumeName = "volume"

const (
	volumeCreate = "volume.create.end"
	volumeDelete = "volume.delete.end"
	volumeAttach = "volume.attach.end"
	volumeDetach = "volume.detach.end"
)

var (
	volumeIdentity = domain.Attributes{
		domain.KeyLayer:    string(domain.LayerVirtual),
		domain.KeyCategory: string(domain.CategoryStorage),
		domain.KeyType:     "volume",
	}

	volumeUpdateEvents = []string{"volume.update.end", "volume.resize.end", volumeAttach, volumeDetach}
)

type volumePayload struct {
	VolumeID    string `json:"volume_id"`
	Size        any    `json:"size"`
	Host        string `json:"host"`
	Attachments []struct {
		AttachStatus string `json:"attach_status"`
		InstanceUUID string `json:"instance_uuid"`
	} `json:"volume_attachment"`
}

// attachedTo returns the instance the volume is attached to, if any.
func (p volumePayload) attachedTo() string {
	vm := ""
	for _, a := range p.Attachments {
		if a.AttachStatus == "attached" {
			vm = a.InstanceUUID
		}
	}
	return vm
}

// Volume tracks block storage volumes from notifications. A volume is
// DEPLOYED_ON its backend machine and REQUIRED by the instance it is
// attached to.
type Volume struct {
	store  *store.Store
	logger *zap.Logger
}

// NewVolume creates the block storage collector
func NewVolume(deps Deps) (Collector, error) {
	return &Volume{store: deps.Store, logger: deps.logger(VolumeName)}, nil
}

// Name implements Collector
func (c *Volume) Name() string { return VolumeName }

// Events implements Collector
func (c *Volume) Events() []string {
	return slices.Concat([]string{volumeCreate, volumeDelete}, volumeUpdateEvents)
}

// Init implements Collector. Volumes are only learned from notifications.
func (c *Volume) Init(context.Context) error {
	c.logger.Info("volumes are added as notifications arrive")
	return nil
}

// Update implements Collector
func (c *Volume) Update(ctx context.Context, ev hub.Event) error {
	var p volumePayload
	if err := decodePayload(ev, &p); err != nil {
		c.logger.Warn("dropping notification", zap.String("event", ev.Name), zap.Error(err))
		return nil
	}
	if p.VolumeID == "" {
		c.logger.Warn("notification without volume id", zap.String("event", ev.Name))
		return nil
	}
	ts := ev.Timestamp()

	switch {
	case ev.Name == volumeDelete:
		return c.remove(ctx, p.VolumeID, ts)
	case slices.Contains(volumeUpdateEvents, ev.Name):
		return c.update(ctx, ev.Name, p, ts)
	case ev.Name == volumeCreate:
		return c.add(ctx, p, ts)
	}
	return nil
}

func (c *Volume) add(ctx context.Context, p volumePayload, ts int64) error {
	vol, err := c.store.AddNode(ctx, p.VolumeID, volumeIdentity, domain.Attributes{"size": p.Size}, ts)
	if err != nil || vol == nil {
		return err
	}
	return c.connect(ctx, vol, p, ts)
}

func (c *Volume) update(ctx context.Context, event string, p volumePayload, ts int64) error {
	res, err := c.store.UpdateNode(ctx, p.VolumeID, ts, domain.Attributes{"size": p.Size}, nil)
	if err != nil {
		return err
	}
	if res.Entity == nil {
		return nil
	}
	if event == volumeDetach {
		return c.detach(ctx, res.Entity, ts)
	}
	return c.connect(ctx, res.Entity, p, ts)
}

// connect links the volume to its machine and to the attached instance.
func (c *Volume) connect(ctx context.Context, vol *domain.EntityRef, p volumePayload, ts int64) error {
	if host := machineName(p.Host); host != "" {
		machine, err := c.store.GetNodeByUUID(ctx, host)
		if err != nil {
			return err
		}
		if machine != nil {
			if _, err := c.store.AddEdge(ctx, vol, machine, ts, domain.LabelDeployedOn); err != nil {
				return err
			}
		} else {
			c.logger.Warn("volume host not in the landscape", zap.String("id", vol.ID), zap.String("host", host))
		}
	}

	if id := p.attachedTo(); id != "" {
		vm, err := c.store.GetNodeByUUID(ctx, id)
		if err != nil {
			return err
		}
		if vm != nil {
			if _, err := c.store.AddEdge(ctx, vm, vol, ts, domain.LabelRequires); err != nil {
				return err
			}
		}
	}
	return nil
}

// detach closes the REQUIRES relationship of every instance using the
// volume.
func (c *Volume) detach(ctx context.Context, vol *domain.EntityRef, ts int64) error {
	preds, err := c.store.Predecessors(ctx, vol.ID, ts)
	if err != nil {
		return err
	}
	for i := range preds {
		if _, err := c.store.DeleteEdge(ctx, &preds[i], vol, ts, domain.LabelRequires); err != nil {
			return err
		}
	}
	return nil
}

func (c *Volume) remove(ctx context.Context, id string, ts int64) error {
	vol, err := c.store.GetNodeByUUID(ctx, id)
	if err != nil || vol == nil {
		return err
	}
	_, err = c.store.DeleteNode(ctx, vol, ts)
	return err
}
