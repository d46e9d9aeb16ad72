package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/linkhub/realtime/internal/api"
	"github.com/linkhub/realtime/internal/chat"
	"github.com/linkhub/realtime/internal/delivery"
	"github.com/linkhub/realtime/internal/events"
	"github.com/linkhub/realtime/internal/presence"
	"github.com/linkhub/realtime/internal/protocol"
	"github.com/linkhub/realtime/internal/registry"
	"github.com/linkhub/realtime/internal/rooms"
	"github.com/linkhub/realtime/internal/typing"
	"github.com/linkhub/realtime/internal/ws"
	"github.com/linkhub/realtime/migrations"
)

func main() {
	// Local development convenience; production supplies real env vars.
	_ = godotenv.Load()

	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	apiAddr := ":8081"
	if v := os.Getenv("API_LISTEN_ADDR"); v != "" {
		apiAddr = v
	}

	// --- PostgreSQL ---
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "postgres://localhost:5432/linkhub_realtime?sslmode=disable"
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("failed to open postgres: %v", err)
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	cancel()

	if err := migrations.Run(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// --- Redis (presence mirror) ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	presenceStore, err := presence.NewStore(redisAddr)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}

	// --- NATS (outbound event feed) ---
	natsConfig := events.DefaultConfig()
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig.URL = natsURL
	}
	publisher, err := events.NewPublisher(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Core wiring ---
	reg := registry.New()
	roomRouter := rooms.NewRouter()
	relay := typing.NewRelay(roomRouter)
	chatStore := chat.NewStore(db)
	pipeline := delivery.NewPipeline(chatStore, reg, publisher)

	log.Printf("LinkHub realtime server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  api_listen_addr: %s", apiAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  redis_addr:      %s", redisAddr)
	log.Printf("  nats_url:        %s", natsConfig.URL)

	dispatcher := ws.NewMessageDispatcher(nil)

	// Declare server early so closures can capture it.
	var server *ws.Server
	var broadcaster *presence.Broadcaster

	// -----------------------------------------------------------------------
	// register — bind this connection to a user identity
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeRegister, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.RegisterMsg)
		if !ok || m.UserID == "" {
			return
		}
		broadcaster.HandleRegister(conn.ID, conn, m.UserID)
		log.Printf("register user=%s conn=%s", m.UserID, conn.ID)
	})

	// -----------------------------------------------------------------------
	// userActivity — refresh activity timestamp, never broadcasts
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeUserActivity, func(conn *ws.Connection, msg interface{}) {
		userID, ok := reg.UserFor(conn.ID)
		if !ok {
			return // activity from an unregistered connection is meaningless
		}
		broadcaster.HandleActivity(userID)
	})

	// -----------------------------------------------------------------------
	// joinChat / leaveChat — room membership
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoinChat, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.JoinChatMsg)
		if !ok || m.ChatID == "" {
			return
		}
		roomRouter.Join(m.ChatID, conn.ID, conn)
		log.Printf("joinChat chat=%s conn=%s members=%d", m.ChatID, conn.ID, roomRouter.Members(m.ChatID))
	})

	dispatcher.Register(protocol.TypeLeaveChat, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.LeaveChatMsg)
		if !ok || m.ChatID == "" {
			return
		}
		roomRouter.Leave(m.ChatID, conn.ID)
		log.Printf("leaveChat chat=%s conn=%s members=%d", m.ChatID, conn.ID, roomRouter.Members(m.ChatID))
	})

	// -----------------------------------------------------------------------
	// typing / stopTyping — ephemeral indicators, scoped to the room.
	// The relayed identity is the one bound at register time, not whatever
	// the client put in the payload.
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeTyping, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.TypingMsg)
		if !ok || m.ChatID == "" {
			return
		}
		userID, ok := reg.UserFor(conn.ID)
		if !ok {
			return
		}
		relay.Typing(m.ChatID, userID, conn.ID)
	})

	dispatcher.Register(protocol.TypeStopTyping, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.StopTypingMsg)
		if !ok || m.ChatID == "" {
			return
		}
		userID, ok := reg.UserFor(conn.ID)
		if !ok {
			return
		}
		relay.StopTyping(m.ChatID, userID, conn.ID)
	})

	server = ws.NewServer(config, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	broadcaster = presence.NewBroadcaster(reg, server.Connections(), presenceStore, publisher)

	// Disconnects unwind presence first (so the offline broadcast fires while
	// the registry state is consistent), then room memberships.
	server.SetOnDisconnect(func(connID string) {
		if userID, found := broadcaster.HandleDisconnect(connID); found {
			log.Printf("disconnect user=%s conn=%s", userID, connID)
		}
		roomRouter.LeaveAll(connID)
	})

	// --- REST API ---
	handlers := api.NewHandlers(chatStore, pipeline, reg, presenceStore)
	apiServer := &http.Server{
		Addr:    apiAddr,
		Handler: api.NewRouter(handlers),
	}
	go func() {
		log.Printf("api: listening on %s", apiAddr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server error: %v", err)
		}
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("api shutdown error: %v", err)
		}
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		publisher.Close()
		if err := presenceStore.Close(); err != nil {
			log.Printf("presence store close error: %v", err)
		}
		if err := db.Close(); err != nil {
			log.Printf("db close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
