package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/peterh/liner"

	"github.com/flavio-simonelli/proxchat/internal/wire"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "Address of the proxchatd instance")
	path := flag.String("path", "/ws", "WebSocket path")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	u := url.URL{Scheme: "ws", Host: *addr, Path: *path}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", u.String(), err)
	}
	defer conn.Close()

	fmt.Printf("proxchat interactive client. Connected to %s\n", u.String())
	fmt.Println("Available commands: update/refresh/offer/answer/candidate/disconnect/exit")

	var writeMu sync.Mutex
	go printInbound(conn)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt("proxchat> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				fmt.Println("Aborted")
				continue
			}
			break
		}
		line.AppendHistory(input)

		args := strings.Fields(strings.TrimSpace(input))
		if len(args) == 0 {
			continue
		}
		cmd := args[0]

		switch cmd {
		case "update":
			if len(args) < 4 {
				fmt.Println("Usage: update <client_id> <x> <y>")
				continue
			}
			x, errX := strconv.Atoi(args[2])
			y, errY := strconv.Atoi(args[3])
			if errX != nil || errY != nil {
				fmt.Println("x and y must be integers")
				continue
			}
			send(conn, &writeMu, wire.Outbound{Type: wire.TagUpdatePosition, Data: wire.UpdatePositionData{
				ClientID: args[1], X: x, Y: y,
			}})

		case "refresh":
			send(conn, &writeMu, wire.Outbound{Type: wire.TagRequestPeerRefresh})

		case "offer":
			if len(args) < 3 {
				fmt.Println("Usage: offer <target_id> <sdp>")
				continue
			}
			send(conn, &writeMu, wire.Outbound{Type: wire.TagSendOffer, Data: wire.SendOfferData{
				TargetID: args[1], Offer: strings.Join(args[2:], " "),
			}})

		case "answer":
			if len(args) < 3 {
				fmt.Println("Usage: answer <target_id> <sdp>")
				continue
			}
			send(conn, &writeMu, wire.Outbound{Type: wire.TagSendAnswer, Data: wire.SendAnswerData{
				TargetID: args[1], Answer: strings.Join(args[2:], " "),
			}})

		case "candidate":
			if len(args) < 3 {
				fmt.Println("Usage: candidate <target_id> <candidate>")
				continue
			}
			send(conn, &writeMu, wire.Outbound{Type: wire.TagSendIceCandidate, Data: wire.SendIceCandidateData{
				TargetID: args[1], Candidate: strings.Join(args[2:], " "),
			}})

		case "disconnect":
			send(conn, &writeMu, wire.Outbound{Type: wire.TagDisconnect})

		case "exit", "quit":
			fmt.Println("Bye!")
			return

		default:
			fmt.Printf("Unknown command: %s\n", cmd)
		}
	}
}

func send(conn *websocket.Conn, mu *sync.Mutex, msg wire.Outbound) {
	encoded, err := msg.Encode()
	if err != nil {
		fmt.Printf("encode failed: %v\n", err)
		return
	}
	mu.Lock()
	defer mu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, encoded); err != nil {
		fmt.Printf("send failed: %v\n", err)
	}
}

// printInbound prints every server frame as it arrives, independent of
// the prompt loop, the way a REPL for an async protocol has to.
func printInbound(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			fmt.Printf("\nconnection closed: %v\n", err)
			return
		}
		env, err := wire.Decode(payload)
		if err != nil {
			fmt.Printf("\n<- malformed frame: %v\n", err)
			continue
		}
		fmt.Printf("\n<- [%s] %s\n", time.Now().Format(time.RFC3339), formatEnvelope(env))
	}
}

func formatEnvelope(env wire.Envelope) string {
	if len(env.Data) == 0 {
		return env.Type
	}
	return fmt.Sprintf("%s %s", env.Type, string(env.Data))
}
