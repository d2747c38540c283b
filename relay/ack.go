package relay

import (
	"errors"
	"fmt"

	"github.com/fxsml/passthru/message"
)

// coordinate runs the addressing handler and acknowledges the back channel
// when the exchange allows it. Nothing happens without an addressing handler.
func (r *Relayer) coordinate(mc *message.Context) error {
	if mc.Config == nil {
		return nil
	}
	h, ok := r.locator.Resolve(mc.Config)
	if !ok {
		return nil
	}

	prevOut, hadOut := mc.Properties[message.PropDisableAddressingOut]
	mc.SetProperty(message.PropDisableAddressingIn, false)
	err := h.Invoke(mc)
	if hadOut {
		mc.SetProperty(message.PropDisableAddressingOut, prevOut)
	}
	if err != nil {
		return fmt.Errorf("relay: addressing: %w", err)
	}

	r.acknowledge(mc)
	return nil
}

// acknowledge releases the back channel early for one-way exchanges, and
// for request/response exchanges whose reply and fault both go elsewhere.
func (r *Relayer) acknowledge(mc *message.Context) {
	if mc.Operation == nil || mc.BackChannel == nil {
		return
	}
	mep := mc.Operation.MEP
	if !mep.OneWay() && !(mep.InOut() && mc.IsReplyRedirected() && mc.IsFaultRedirected()) {
		return
	}

	disabled, err := mc.DisableResponseAck()
	if err != nil {
		r.logger.Warn("Malformed acknowledgment override, keeping back channel",
			"message_id", mc.ID(),
			"error", err)
		return
	}
	if disabled {
		return
	}

	if err := mc.BackChannel.Acknowledge(mc); err != nil {
		if errors.Is(err, message.ErrBackChannelSettled) {
			return
		}
		r.logger.Warn("Early acknowledgment failed",
			"message_id", mc.ID(),
			"error", err)
		return
	}
	r.logger.Debug("Acknowledged back channel",
		"message_id", mc.ID(),
		"mep", string(mep))
}
