package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/codeshare/internal/roomclient"
	"github.com/michaelbrown/codeshare/internal/storage"
)

var (
	limitFlag    int
	exportLimit  int
	exportFormat string
	exportOutput string
	forceFlag    bool
	remoteFlag   bool
)

var roomsCmd = &cobra.Command{
	Use:     "rooms",
	Aliases: []string{"room", "r"},
	Short:   "Manage the room registry",
	Long: `Manage the room registry.

By default the commands open the configured store directly. With --remote
they go through the room service at client.relay instead, which also reports
live member counts.`,
}

var roomsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rooms by recent activity",
	Args:  cobra.NoArgs,
	RunE:  runRoomsList,
}

var roomsShowCmd = &cobra.Command{
	Use:   "show <room-id>",
	Short: "Show room details",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoomsShow,
}

var roomsDeleteCmd = &cobra.Command{
	Use:   "delete <room-id>",
	Short: "Delete a room",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoomsDelete,
}

var roomsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the registry as markdown or JSON",
	Args:  cobra.NoArgs,
	RunE:  runRoomsExport,
}

func init() {
	rootCmd.AddCommand(roomsCmd)
	roomsCmd.AddCommand(roomsListCmd, roomsShowCmd, roomsDeleteCmd, roomsExportCmd)

	roomsCmd.PersistentFlags().BoolVar(&remoteFlag, "remote", false, "Use the room service instead of the local store")

	roomsListCmd.Flags().IntVar(&limitFlag, "limit", 20, "Max rooms to show")

	roomsExportCmd.Flags().StringVar(&exportFormat, "format", "md", "Export format: md or json")
	roomsExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")
	roomsExportCmd.Flags().IntVar(&exportLimit, "limit", 1000, "Max rooms to export")

	roomsDeleteCmd.Flags().BoolVar(&forceFlag, "force", false, "Skip confirmation")
}

// registry is the subset of room operations shared by the local store and
// the room service.
type registry interface {
	list(ctx context.Context, limit int) ([]roomclient.Room, error)
	get(ctx context.Context, id string) (*roomclient.Room, error)
	remove(ctx context.Context, id string) error
	close() error
}

type storeRegistry struct{ store storage.Store }

func (r storeRegistry) list(ctx context.Context, limit int) ([]roomclient.Room, error) {
	rooms, err := r.store.ListRooms(ctx, storage.RoomListOptions{Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]roomclient.Room, len(rooms))
	for i, room := range rooms {
		out[i] = roomclient.Room{Room: room, Members: -1}
	}
	return out, nil
}

func (r storeRegistry) get(ctx context.Context, id string) (*roomclient.Room, error) {
	room, err := r.store.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	return &roomclient.Room{Room: *room, Members: -1}, nil
}

func (r storeRegistry) remove(ctx context.Context, id string) error {
	return r.store.DeleteRoom(ctx, id)
}

func (r storeRegistry) close() error { return r.store.Close() }

type remoteRegistry struct{ client *roomclient.Client }

func (r remoteRegistry) list(ctx context.Context, limit int) ([]roomclient.Room, error) {
	return r.client.ListRooms(ctx, limit)
}

func (r remoteRegistry) get(ctx context.Context, id string) (*roomclient.Room, error) {
	return r.client.GetRoom(ctx, id)
}

func (r remoteRegistry) remove(ctx context.Context, id string) error {
	return r.client.DeleteRoom(ctx, id)
}

func (r remoteRegistry) close() error { return nil }

func openRegistry(ctx context.Context) (registry, error) {
	cfg, logger, err := setup()
	if err != nil {
		return nil, err
	}
	if remoteFlag {
		return remoteRegistry{client: roomclient.New(cfg.Client.Relay, logger)}, nil
	}
	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	return storeRegistry{store: store}, nil
}

func runRoomsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	reg, err := openRegistry(ctx)
	if err != nil {
		return err
	}
	defer reg.close()

	rooms, err := reg.list(ctx, limitFlag)
	if err != nil {
		return err
	}

	if len(rooms) == 0 {
		fmt.Println("No rooms found.")
		return nil
	}

	fmt.Printf("%-10s %-8s %-8s %-14s %s\n", "ID", "JOINS", "LIVE", "LAST JOINED", "CREATED")
	fmt.Println(strings.Repeat("─", 60))

	for _, r := range rooms {
		fmt.Printf("%-10s %-8d %-8s %-14s %s\n",
			r.ID, r.Joins, liveCount(r.Members), timeAgo(r.LastJoinedAt), timeAgo(r.CreatedAt))
	}

	return nil
}

func runRoomsShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	reg, err := openRegistry(ctx)
	if err != nil {
		return err
	}
	defer reg.close()

	room, err := reg.get(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Room:        %s\n", room.ID)
	fmt.Printf("Created:     %s\n", room.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Last joined: %s\n", room.LastJoinedAt.Format(time.RFC3339))
	fmt.Printf("Joins:       %d\n", room.Joins)
	if room.Members >= 0 {
		fmt.Printf("Live:        %d\n", room.Members)
	}
	return nil
}

func runRoomsDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	reg, err := openRegistry(ctx)
	if err != nil {
		return err
	}
	defer reg.close()

	room, err := reg.get(ctx, args[0])
	if err != nil {
		return err
	}

	if !forceFlag {
		fmt.Printf("Delete room %s (%d joins)? [y/N] ", room.ID, room.Joins)
		var confirm string
		fmt.Scanln(&confirm)
		if strings.ToLower(confirm) != "y" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := reg.remove(ctx, room.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted room %s\n", room.ID)
	return nil
}

func runRoomsExport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	reg, err := openRegistry(ctx)
	if err != nil {
		return err
	}
	defer reg.close()

	rooms, err := reg.list(ctx, exportLimit)
	if err != nil {
		return err
	}
	plain := make([]storage.Room, len(rooms))
	for i, r := range rooms {
		plain[i] = r.Room
	}

	var output string
	switch exportFormat {
	case "json":
		data, err := storage.ExportJSON(plain)
		if err != nil {
			return err
		}
		output = string(data)
	default:
		output = storage.ExportMarkdown(plain)
	}

	if exportOutput != "" {
		return os.WriteFile(exportOutput, []byte(output), 0o644)
	}

	fmt.Print(output)
	return nil
}

func liveCount(n int) string {
	if n < 0 {
		return "-"
	}
	return fmt.Sprint(n)
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
