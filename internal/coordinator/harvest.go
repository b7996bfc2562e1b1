package coordinator

import (
	"github.com/roach88/softnav/internal/harvest"
	"github.com/roach88/softnav/internal/interaction"
)

// HarvestStarted serializes the pending queue into one payload. Reports
// false when there is nothing to send or harvesting is blocked.
//
// With opts.Retry the serialized interactions are held until
// HarvestFinished so a retry response can requeue them.
func (c *Coordinator) HarvestStarted(opts harvest.Options) (harvest.Payload, bool) {
	if len(c.pending) == 0 || c.blocked {
		return harvest.Payload{}, false
	}

	batch := make([]*interaction.Interaction, 0, len(c.pending))
	for _, ixn := range c.pending {
		if ixn.ForceIgnore {
			c.logger.Debug("interaction dropped", "id", ixn.ID, "reason", "ignored")
			continue
		}
		batch = append(batch, ixn)
	}
	c.pending = nil

	if len(batch) == 0 {
		return harvest.Payload{}, false
	}
	if opts.Retry {
		c.awaitingRetry = append(c.awaitingRetry, batch...)
	}

	body := interaction.EncodeBatch(batch, interaction.EncodeOptions{ServerTime: c.serverTime})
	c.logger.Debug("harvest payload built", "interactions", len(batch), "retry", opts.Retry)
	return harvest.Payload{Body: body}, true
}

// HarvestFinished requeues the in-flight batch ahead of newer interactions
// when the collector asked for a retry.
func (c *Coordinator) HarvestFinished(res harvest.Result) {
	if res.Sent && res.Retry && len(c.awaitingRetry) > 0 {
		requeued := make([]*interaction.Interaction, 0, len(c.awaitingRetry)+len(c.pending))
		requeued = append(requeued, c.awaitingRetry...)
		c.pending = append(requeued, c.pending...)
		c.logger.Info("harvest will be retried", "interactions", len(c.awaitingRetry), "status", res.StatusCode)
	}
	c.awaitingRetry = nil
}
