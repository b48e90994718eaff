// Package handler binds namespaces to downstream handlers.
//
// A handler is any value implementing one or more of the capability
// interfaces below. Capabilities a handler does not implement are skipped
// silently when a record of that kind is dispatched. Handlers that also
// implement io.Closer are closed when the registry is closed.
package handler

import (
	"fmt"
	"time"

	"github.com/juju/mgo/v3/bson"
	"github.com/moplog/moplog/oplog"
)

// Handler is a downstream consumer of change records
type Handler interface{}

// InsertHandler receives inserted documents
type InsertHandler interface {
	HandleInsert(raw bson.M, t time.Time, ns string, doc bson.M) error
}

// UpdateHandler receives the target id and update description
type UpdateHandler interface {
	HandleUpdate(raw bson.M, t time.Time, ns string, id oplog.DocumentID, update bson.M) error
}

// DeleteHandler receives the target id and whether a document was removed
type DeleteHandler interface {
	HandleDelete(raw bson.M, t time.Time, ns string, id oplog.DocumentID, success bool) error
}

// CommandHandler receives database commands
type CommandHandler interface {
	HandleCommand(raw bson.M, t time.Time, ns string) error
}

// Dispatch invokes the capability of h matching rec's kind. It reports
// whether a capability was invoked; a missing capability is not an error.
func Dispatch(h Handler, rec oplog.ChangeRecord) (bool, error) {
	if h == nil {
		return false, nil
	}

	t := rec.Position.WallClock()
	var err error
	switch rec.Kind {
	case oplog.KindInsert:
		ih, ok := h.(InsertHandler)
		if !ok {
			return false, nil
		}
		err = ih.HandleInsert(rec.Raw, t, rec.Namespace, rec.Document)
	case oplog.KindUpdate:
		uh, ok := h.(UpdateHandler)
		if !ok {
			return false, nil
		}
		err = uh.HandleUpdate(rec.Raw, t, rec.Namespace, rec.DocumentID, rec.Update)
	case oplog.KindDelete:
		dh, ok := h.(DeleteHandler)
		if !ok {
			return false, nil
		}
		err = dh.HandleDelete(rec.Raw, t, rec.Namespace, rec.DocumentID, rec.Success)
	case oplog.KindCommand:
		ch, ok := h.(CommandHandler)
		if !ok {
			return false, nil
		}
		err = ch.HandleCommand(rec.Raw, t, rec.Namespace)
	default:
		return false, nil
	}

	if err != nil {
		return true, fmt.Errorf("%s %s at %s: %w", rec.Kind, rec.Namespace, rec.Position, err)
	}
	return true, nil
}
