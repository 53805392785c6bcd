package device

import (
	"context"
	"log/slog"
	"strconv"

	"smart-tank-dashboard/backend/internal/device/types"
	"smart-tank-dashboard/backend/pkg/utils"
)

// ChangeParameter writes a scalar parameter. Unknown names are dropped.
func (s *Session) ChangeParameter(ctx context.Context, name string, value float64) {
	if !IsKnownParameter(name) {
		s.l.Debug("dropping write to unknown parameter", slog.String("name", name))
		s.metrics.IncIgnoredCommand("unknown_parameter")
		return
	}
	s.publish(ctx, "parameter", ParameterTopic(name), []byte(formatNumber(value)))
}

// ChangeMode switches the device operating mode.
func (s *Session) ChangeMode(ctx context.Context, mode int) {
	s.publish(ctx, "mode", ParameterTopic(ParamMode), []byte(strconv.Itoa(mode)))
}

// SetHeaterOutputPower sets the heater output. The device honours it only in remote mode.
func (s *Session) SetHeaterOutputPower(ctx context.Context, power float64) {
	s.publish(ctx, "heater_power", TopicHeaterPower, []byte(formatNumber(power)))
}

// ChangeCalibrationPoints writes a calibration curve. The number of points is not checked here;
// the device rejects curves it cannot use.
func (s *Session) ChangeCalibrationPoints(ctx context.Context, name string, points []CalibrationPoint) {
	if !IsKnownCalibrationParameter(name) {
		s.l.Debug("dropping write to unknown calibration", slog.String("name", name))
		s.metrics.IncIgnoredCommand("unknown_calibration")
		return
	}

	wire := make([]types.CalibrationPoint, 0, len(points))
	for _, p := range points {
		wire = append(wire, types.CalibrationPoint{RawValue: p.RawValue, CalibratedValue: p.CalibratedValue})
	}
	payload, err := utils.ToJSON(wire)
	if err != nil {
		s.l.Error("failed to encode calibration points", utils.ErrAttr(err))
		return
	}
	s.publish(ctx, "calibration", ParameterTopic(name), payload)
}

// publish sends payload on the input topic suffix. A failure is treated as a dead link.
func (s *Session) publish(ctx context.Context, op, suffix string, payload []byte) {
	s.mu.Lock()
	bus, gen := s.bus, s.generation
	topic := s.topics.Input(suffix)
	s.mu.Unlock()

	if bus == nil {
		s.l.Debug("dropping command without connection", slog.String("op", op))
		s.metrics.IncIgnoredCommand("no_connection")
		return
	}

	if err := bus.Publish(ctx, topic, payload); err != nil {
		s.l.Warn("failed to publish command", slog.String("op", op), slog.String("topic", topic), utils.ErrAttr(err))
		s.metrics.IncPublishFailure(op)

		s.mu.Lock()
		if gen == s.generation {
			s.resetFlagsLocked()
		}
		s.mu.Unlock()
		return
	}
	s.l.Debug("published command", slog.String("op", op), slog.String("topic", topic))
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
