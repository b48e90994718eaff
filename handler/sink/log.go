package sink

import (
	"fmt"
	"time"

	"github.com/juju/mgo/v3/bson"
	"github.com/moplog/moplog/cfg"
	"github.com/moplog/moplog/handler"
	"github.com/moplog/moplog/oplog"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func init() {
	handler.RegisterHandler("log", func(name string, config cfg.HandlerConfiguration) (handler.Handler, error) {
		return NewLogHandler(name, config.Level, log.Logger)
	})
}

// LogHandler writes every record it receives to the log
type LogHandler struct {
	logger zerolog.Logger
	level  zerolog.Level
}

// NewLogHandler logs at level (default info) through logger
func NewLogHandler(name, level string, logger zerolog.Logger) (*LogHandler, error) {
	lvl := zerolog.InfoLevel
	if level != "" {
		parsed, err := zerolog.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("log handler %q: %w", name, err)
		}
		lvl = parsed
	}

	return &LogHandler{
		logger: logger.With().Str("handler", name).Logger(),
		level:  lvl,
	}, nil
}

func (h *LogHandler) event(op string, t time.Time, ns string) *zerolog.Event {
	return h.logger.WithLevel(h.level).
		Str("op", op).
		Str("ns", ns).
		Time("time", t)
}

func (h *LogHandler) HandleInsert(raw bson.M, t time.Time, ns string, doc bson.M) error {
	h.event("insert", t, ns).Interface("doc", normalizeDoc(doc)).Msg("Insert")
	return nil
}

func (h *LogHandler) HandleUpdate(raw bson.M, t time.Time, ns string, id oplog.DocumentID, update bson.M) error {
	h.event("update", t, ns).Str("id", id.String()).Interface("update", normalizeDoc(update)).Msg("Update")
	return nil
}

func (h *LogHandler) HandleDelete(raw bson.M, t time.Time, ns string, id oplog.DocumentID, success bool) error {
	h.event("delete", t, ns).Str("id", id.String()).Bool("success", success).Msg("Delete")
	return nil
}

func (h *LogHandler) HandleCommand(raw bson.M, t time.Time, ns string) error {
	h.event("command", t, ns).Interface("command", normalize(raw["o"])).Msg("Command")
	return nil
}
