/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package sql

import (
	"context"
	"database/sql"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/ortuman/jabberwire/log"
	"github.com/ortuman/jabberwire/router"
	"github.com/ortuman/jabberwire/xmpp"
)

// RegisterXDB wires s as inst's Deliver-phase XDB storage component
// (spec.md §4.3): the router hands every packet classified ClassXDB to
// inst regardless of its "to" domain, and s answers get and set
// requests against the xdb_documents table. Of a set's actions only
// "check" is told apart: it compares the first child's text with the
// whole stored text and marks a difference with match="false". Every
// other set, "insert" included, replaces the stored text with the first
// child's text; match/matchpath selections are not applied.
//
// Reconstituting a stored document back into an XElement tree is the
// job of the stream-side XML tokenizer elsewhere in the system; this
// component only round-trips a document's text content, which is
// sufficient for the single-text-node payloads (password checks,
// last-activity status, simple roster blobs) the rest of the module
// exercises.
func (s *Storage) RegisterXDB(inst *router.Instance) {
	inst.Chain.Register(router.Deliver, s.handle)
}

func (s *Storage) handle(pkt *router.Packet) router.Result {
	el := pkt.Element
	if el.Name() != "xdb" {
		return router.Pass
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	owner := el.Attributes().Get("to")
	ns := el.Attributes().Get("ns")

	resp := xmpp.NewElementFromElement(el)
	resp.SetType(xmpp.ResultType)
	resp.SetTo(el.From())
	resp.SetFrom(el.To())

	var err error
	switch el.Type() {
	case "get":
		err = s.handleGet(ctx, resp, owner, ns)
	case "set":
		err = s.handleSet(ctx, resp, owner, ns, el)
	default:
		return router.Pass
	}
	if err != nil {
		log.Warnf("sql: xdb %s/%s failed: %v", owner, ns, pkgerrors.Wrap(err, errStorageFailure.Error()))
		resp.SetType(xmpp.ErrorType)
		resp.AppendElement(xmpp.ErrInternalServerError.Element())
	}

	if rerr := router.Instance().Route(&router.Packet{Element: resp, Class: router.ClassXDB}); rerr != nil {
		log.Debugf("sql: xdb reply for %s undeliverable: %v", resp.ID(), rerr)
	}
	return router.Done
}

func (s *Storage) handleGet(ctx context.Context, resp *xmpp.Element, owner, ns string) error {
	query, args, err := s.builder.
		Select("data").
		From("xdb_documents").
		Where("owner = ? AND ns = ?", owner, ns).
		ToSql()
	if err != nil {
		return err
	}
	v, err := s.withBreaker(func() (interface{}, error) {
		var data string
		row := s.db.QueryRowContext(ctx, query, args...)
		if scanErr := row.Scan(&data); scanErr != nil {
			if scanErr == sql.ErrNoRows {
				return "", nil
			}
			return "", scanErr
		}
		return data, nil
	})
	if err != nil {
		return err
	}
	data := v.(string)
	if data == "" {
		return nil
	}
	payload := xmpp.NewElementName("payload")
	payload.SetText(data)
	resp.AppendElement(payload)
	return nil
}

func (s *Storage) handleSet(ctx context.Context, resp *xmpp.Element, owner, ns string, req xmpp.XElement) error {
	action := req.Attributes().Get("action")
	var text string
	if children := req.Elements().All(); len(children) > 0 {
		text = children[0].Text()
	}

	if action == "check" {
		existing, err := s.fetchText(ctx, owner, ns)
		if err != nil {
			return err
		}
		if existing != text {
			resp.SetAttribute("match", "false")
		}
		return nil
	}

	upsert := "ON DUPLICATE KEY UPDATE data = VALUES(data), updated_at = VALUES(updated_at)"
	if s.driver != MySQL {
		upsert = "ON CONFLICT (owner, ns) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at"
	}
	query, args, err := s.builder.
		Insert("xdb_documents").
		Columns("owner", "ns", "data", "updated_at").
		Values(owner, ns, text, time.Now()).
		Suffix(upsert).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.withBreaker(func() (interface{}, error) {
		return s.db.ExecContext(ctx, query, args...)
	})
	return err
}

func (s *Storage) fetchText(ctx context.Context, owner, ns string) (string, error) {
	query, args, err := s.builder.
		Select("data").
		From("xdb_documents").
		Where("owner = ? AND ns = ?", owner, ns).
		ToSql()
	if err != nil {
		return "", err
	}
	v, err := s.withBreaker(func() (interface{}, error) {
		var data string
		row := s.db.QueryRowContext(ctx, query, args...)
		if scanErr := row.Scan(&data); scanErr != nil {
			if scanErr == sql.ErrNoRows {
				return "", nil
			}
			return "", scanErr
		}
		return data, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
