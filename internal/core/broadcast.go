package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/roomchat/roomchat-server/internal/store"
)

// DeliveryReport describes the outcome of one broadcast. Failed connections
// are reported back to the caller; the engine itself never mutates hub
// membership, preserving single-writer discipline on the membership sets.
type DeliveryReport struct {
	Room      string
	Delivered int
	Failed    []Conn
}

// Engine fans messages out to every connection in a room's snapshot.
//
// A per-room publish mutex serializes persist-then-broadcast so the two run
// as one indivisible step per message: no other message for the same room can
// interleave between a message's append and its fan-out.
type Engine struct {
	hub         *Hub
	messages    store.MessageStore
	sendTimeout time.Duration
	log         *zerolog.Logger

	mu      sync.Mutex
	publish map[string]*sync.Mutex
}

// NewEngine builds a broadcast engine on top of the hub and message store.
// sendTimeout bounds each individual delivery so one stuck client cannot
// starve the rest of the room.
func NewEngine(hub *Hub, messages store.MessageStore, sendTimeout time.Duration, logger *zerolog.Logger) *Engine {
	return &Engine{
		hub:         hub,
		messages:    messages,
		sendTimeout: sendTimeout,
		log:         logger,
		publish:     make(map[string]*sync.Mutex),
	}
}

func (e *Engine) publishLock(room string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lk, ok := e.publish[room]
	if !ok {
		lk = &sync.Mutex{}
		e.publish[room] = lk
	}
	return lk
}

// DropRoom releases the publish lock of a deleted room. A room re-created
// with the same name starts with fresh state.
func (e *Engine) DropRoom(room string) {
	e.mu.Lock()
	delete(e.publish, room)
	e.mu.Unlock()
}

// Publish persists the message and then broadcasts it to the room, rendered
// as "author: content". If the append fails the broadcast is skipped, so a
// message is never delivered without a history record.
func (e *Engine) Publish(ctx context.Context, room string, author Identity, content string) (DeliveryReport, error) {
	lk := e.publishLock(room)
	lk.Lock()
	defer lk.Unlock()

	if _, err := e.messages.AppendMessage(ctx, room, author.Username, content, time.Now()); err != nil {
		return DeliveryReport{Room: room}, fmt.Errorf("append message: %w", err)
	}

	return e.fanOut(ctx, room, renderMessage(author.Username, content)), nil
}

// Join registers the connection in the room and replays recent history to it
// as one step under the room's publish lock. No publish can land between the
// registration and the history query, so a joining connection never sees the
// same message through both replay and the live broadcast. Replay failures
// are logged, not returned: the live stream still works without history.
func (e *Engine) Join(ctx context.Context, room string, c Conn, limit int) error {
	lk := e.publishLock(room)
	lk.Lock()
	defer lk.Unlock()

	if err := e.hub.Register(room, c); err != nil {
		return err
	}
	if err := e.Replay(ctx, c, room, limit); err != nil {
		e.log.Warn().Err(err).Str("conn_id", c.ID()).Str("room", room).Msg("history replay failed")
	}
	return nil
}

// Notify broadcasts a text frame to the room without persisting it. Used for
// join and leave notices.
func (e *Engine) Notify(ctx context.Context, room, text string) DeliveryReport {
	lk := e.publishLock(room)
	lk.Lock()
	defer lk.Unlock()

	return e.fanOut(ctx, room, text)
}

// fanOut pushes text to every connection in the room's snapshot. Delivery
// failures are collected per recipient and never abort the remaining sends.
func (e *Engine) fanOut(ctx context.Context, room, text string) DeliveryReport {
	report := DeliveryReport{Room: room}
	for _, c := range e.hub.Snapshot(room) {
		if err := e.send(ctx, c, text); err != nil {
			e.log.Warn().Err(err).Str("conn_id", c.ID()).Str("room", room).Msg("broadcast delivery failed")
			report.Failed = append(report.Failed, c)
			continue
		}
		report.Delivered++
	}
	return report
}

func (e *Engine) send(ctx context.Context, c Conn, text string) error {
	sendCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()
	return c.Send(sendCtx, text)
}

// Replay sends a room's recent history to a single connection, oldest first.
// The store returns messages newest first, so the order is reversed here.
func (e *Engine) Replay(ctx context.Context, c Conn, room string, limit int) error {
	msgs, err := e.messages.RecentMessages(ctx, room, limit)
	if err != nil {
		return fmt.Errorf("recent messages: %w", err)
	}

	for i := len(msgs) - 1; i >= 0; i-- {
		if err := e.send(ctx, c, renderMessage(msgs[i].Author, msgs[i].Content)); err != nil {
			return fmt.Errorf("replay to %s: %w", c.ID(), err)
		}
	}
	return nil
}

func renderMessage(author, content string) string {
	return author + ": " + content
}
