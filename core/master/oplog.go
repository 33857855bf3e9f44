package master

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// OpLog is the append only audit log of master mutations, one JSON record per line.
// It is never replayed.
type OpLog struct {
	log *zap.Logger
}

func NewOpLog(path string) (*OpLog, error) {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{path}
	config.ErrorOutputPaths = []string{"stderr"}
	config.Sampling = nil
	config.DisableCaller = true
	config.DisableStacktrace = true
	config.EncoderConfig.MessageKey = "op"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	log, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &OpLog{log: log}, nil
}

// Record appends an operation record. A nil OpLog discards records.
func (o *OpLog) Record(op string, fields ...zap.Field) {
	if o == nil {
		return
	}

	o.log.Info(op, fields...)
}

func (o *OpLog) Close() error {
	if o == nil {
		return nil
	}

	return o.log.Sync()
}
