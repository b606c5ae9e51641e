package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/roomchat/roomchat-server/internal/store"
)

// Registry validates room existence and the restricted flag, and owns the
// room lifecycle. Room metadata lives in the store; live membership lives in
// the hub. The two are reconciled on delete by force-closing every occupant.
type Registry struct {
	rooms  store.RoomStore
	hub    *Hub
	engine *Engine
	log    *zerolog.Logger
}

// NewRegistry builds a registry over the room store.
func NewRegistry(rooms store.RoomStore, hub *Hub, engine *Engine, logger *zerolog.Logger) *Registry {
	return &Registry{
		rooms:  rooms,
		hub:    hub,
		engine: engine,
		log:    logger,
	}
}

// Exists reports whether a room with the given name exists.
func (r *Registry) Exists(ctx context.Context, name string) (bool, error) {
	_, err := r.rooms.GetRoom(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get room: %w", err)
	}
	return true, nil
}

// IsRestricted reports whether joining the room requires the admin role.
// Returns ErrRoomNotFound if the room does not exist.
func (r *Registry) IsRestricted(ctx context.Context, name string) (bool, error) {
	room, err := r.rooms.GetRoom(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, ErrRoomNotFound
		}
		return false, fmt.Errorf("get room: %w", err)
	}
	return room.IsRestricted, nil
}

// Create registers a new room. Returns ErrRoomExists if the name is taken.
func (r *Registry) Create(ctx context.Context, name, description string, restricted bool, createdBy string) (*store.Room, error) {
	room, err := r.rooms.CreateRoom(ctx, name, description, restricted, createdBy)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, ErrRoomExists
		}
		return nil, fmt.Errorf("create room: %w", err)
	}

	r.log.Info().Str("room", room.Name).Bool("restricted", room.IsRestricted).Str("created_by", createdBy).Msg("room created")
	return room, nil
}

// List returns all rooms ordered by creation time.
func (r *Registry) List(ctx context.Context) ([]*store.Room, error) {
	return r.rooms.ListRooms(ctx)
}

// Delete removes the room and cascades: all persisted messages are deleted
// and every live connection in the room is forcibly closed, so no connection
// is left referencing a deleted room. Returns ErrRoomNotFound if absent.
func (r *Registry) Delete(ctx context.Context, name string) error {
	if err := r.rooms.DeleteRoomCascade(ctx, name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRoomNotFound
		}
		return fmt.Errorf("delete room: %w", err)
	}

	evicted := r.hub.CloseRoom(name, CloseNormal, "room deleted")
	r.engine.DropRoom(name)

	r.log.Info().Str("room", name).Int("evicted", evicted).Msg("room deleted")
	return nil
}
