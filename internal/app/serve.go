package app

import (
	"context"
	"time"

	"github.com/1ureka/duocall/internal/config"
	"github.com/1ureka/duocall/internal/signaling"
	"github.com/1ureka/duocall/internal/util"
)

const shutdownTimeout = 5 * time.Second

// Serve runs the room relay on cfg.Listen until ctx is cancelled.
func Serve(ctx context.Context, cfg *config.Config) error {
	server := signaling.NewServer(cfg.Listen)
	addr, err := server.Start()
	if err != nil {
		return err
	}
	util.LogSuccess("relay listening on %s", addr)
	util.LogInfo("peers join at ws://%s/api/room/v1/{room}/ws", addr)

	<-ctx.Done()
	util.LogInfo("shutting down relay (%d active room(s))", server.Hub().RoomCount())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Close(shutdownCtx)
}
