package main

import (
	"context"
	"fmt"
	"os"

	"roost/server/internal/store"
)

// RunCLI handles subcommand execution. Returns true if a subcommand was handled.
func RunCLI(args []string, dbPath string) bool {
	if len(args) == 0 {
		return false
	}

	subcmd := args[0]
	switch subcmd {
	case "version":
		fmt.Printf("roost server %s\n", Version)
		return true
	case "status":
		return cliStatus(dbPath)
	case "rooms":
		return cliRooms(args[1:], dbPath)
	case "bans":
		return cliBans(args[1:], dbPath)
	default:
		return false
	}
}

func openStoreOrExit(dbPath string) *store.Store {
	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	return st
}

func cliStatus(dbPath string) bool {
	st := openStoreOrExit(dbPath)
	defer st.Close()

	n, _ := st.RoomCount(context.Background())
	bans, _ := st.BannedAccounts(context.Background())
	fmt.Printf("Database: %s\n", dbPath)
	fmt.Printf("Rooms: %d\n", n)
	fmt.Printf("Banned HWIDs: %d\n", len(bans))
	fmt.Printf("Version: %s\n", Version)
	return true
}

func cliRooms(args []string, dbPath string) bool {
	st := openStoreOrExit(dbPath)
	defer st.Close()

	ctx := context.Background()

	if len(args) == 0 || args[0] == "list" {
		rooms, err := st.Rooms(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if len(rooms) == 0 {
			fmt.Println("No rooms found.")
			return true
		}
		for _, room := range rooms {
			fmt.Printf("  [%d] %s\n", room.ID, room.Name)
		}
		return true
	}

	if args[0] == "create" && len(args) > 1 {
		name := args[1]
		id, err := st.CreateRoom(ctx, name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error creating room: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created room %q (id=%d)\n", name, id)
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: server rooms [list|create <name>]\n")
	os.Exit(1)
	return true
}

func cliBans(args []string, dbPath string) bool {
	st := openStoreOrExit(dbPath)
	defer st.Close()

	ctx := context.Background()

	if len(args) == 0 || args[0] == "list" {
		bans, err := st.BannedAccounts(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if len(bans) == 0 {
			fmt.Println("No banned HWIDs.")
			return true
		}
		for _, acct := range bans {
			fmt.Printf("  %s (last seen %s)\n", acct.HWID, acct.LastSeen.Format("2006-01-02 15:04:05"))
		}
		return true
	}

	if (args[0] == "ban" || args[0] == "unban") && len(args) > 1 {
		hwid := args[1]
		if err := st.SetBanned(ctx, hwid, args[0] == "ban"); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if args[0] == "ban" {
			fmt.Printf("Banned %s\n", hwid)
		} else {
			fmt.Printf("Unbanned %s\n", hwid)
		}
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: server bans [list|ban <hwid>|unban <hwid>]\n")
	os.Exit(1)
	return true
}
