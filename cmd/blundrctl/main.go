package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/park285/blundrbot/internal/blundrclient"
	"github.com/park285/blundrbot/internal/msgcat"
	"github.com/park285/blundrbot/internal/position"
	"github.com/park285/blundrbot/internal/selfplay"
	"github.com/park285/blundrbot/pkg/blundrdto"
)

func usage() {
	fmt.Fprintln(os.Stderr, strings.Join([]string{
		"usage: blundrctl [-url URL] <command> [flags]",
		"",
		"  health                       server and engine status",
		"  move -fen FEN [-recent a,b]  ask for the worst move",
		"  board -fen FEN [-move UCI] -out FILE",
		"  recent [-limit N]            recently served moves",
		"  play [-plies N] [-ws]        let the bot play itself",
	}, "\n"))
}

func main() {
	baseURL := flag.String("url", envDefault("BLUNDR_URL", "http://localhost:8000"), "server base URL")
	timeout := flag.Duration("timeout", 15*time.Second, "per-request timeout")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := blundrclient.NewClient(*baseURL, blundrclient.WithTimeout(*timeout))
	cmd, args := flag.Arg(0), flag.Args()[1:]

	var err error
	switch cmd {
	case "health":
		var h *blundrdto.Health
		if h, err = client.Health(ctx); err == nil {
			err = printJSON(h)
		}
	case "move":
		err = runMove(ctx, client, args)
	case "board":
		err = runBoard(ctx, client, args)
	case "recent":
		err = runRecent(ctx, client, args)
	case "play":
		err = runPlay(ctx, client, *baseURL, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func runMove(ctx context.Context, client *blundrclient.Client, args []string) error {
	fs := flag.NewFlagSet("move", flag.ExitOnError)
	fen := fs.String("fen", position.StartFEN, "position")
	recent := fs.String("recent", "", "comma-separated recent moves to avoid")
	pool := fs.Int("pool", 0, "worst-move pool size")
	_ = fs.Parse(args)

	resp, err := client.WorstMove(ctx, blundrdto.WorstMoveRequest{
		FEN:         *fen,
		RecentMoves: splitList(*recent),
		PoolSize:    *pool,
	})
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func runBoard(ctx context.Context, client *blundrclient.Client, args []string) error {
	fs := flag.NewFlagSet("board", flag.ExitOnError)
	fen := fs.String("fen", position.StartFEN, "position")
	move := fs.String("move", "", "move to highlight")
	flip := fs.Bool("flip", false, "draw from black's side")
	out := fs.String("out", "board.png", "output file")
	_ = fs.Parse(args)

	png, err := client.BoardPNG(ctx, *fen, *move, *flip)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, png, 0o644); err != nil {
		return err
	}
	fmt.Println(*out)
	return nil
}

func runRecent(ctx context.Context, client *blundrclient.Client, args []string) error {
	fs := flag.NewFlagSet("recent", flag.ExitOnError)
	limit := fs.Int("limit", 20, "number of moves")
	_ = fs.Parse(args)

	resp, err := client.RecentMoves(ctx, *limit)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func runPlay(ctx context.Context, client *blundrclient.Client, baseURL string, args []string) error {
	fs := flag.NewFlagSet("play", flag.ExitOnError)
	fen := fs.String("fen", position.StartFEN, "starting position")
	plies := fs.Int("plies", 200, "stop after this many plies (0 = until the game ends)")
	pool := fs.Int("pool", 0, "worst-move pool size")
	useWS := fs.Bool("ws", false, "send moves over the websocket endpoint")
	messages := fs.String("messages", os.Getenv("MESSAGES_DIR"), "message override directory")
	_ = fs.Parse(args)

	catalog, err := msgcat.New(*messages)
	if err != nil {
		return err
	}

	var mover selfplay.Mover = client
	if *useWS {
		stream, err := blundrclient.DialStream(ctx, baseURL, nil)
		if err != nil {
			return err
		}
		defer stream.Close()
		mover = stream
	}

	_, err = selfplay.Play(ctx, mover, selfplay.Options{
		StartFEN: *fen,
		MaxPlies: *plies,
		PoolSize: *pool,
		Catalog:  catalog,
		Out:      os.Stdout,
	})
	return err
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}
