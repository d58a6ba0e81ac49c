package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/docmesh/docmesh-backend/internal/data/db"
	"github.com/docmesh/docmesh-backend/internal/data/graph"
	"github.com/docmesh/docmesh-backend/internal/pkg/logger"
	"github.com/docmesh/docmesh-backend/internal/platform/filestore"
	"github.com/docmesh/docmesh-backend/internal/platform/milvusdb"
	"github.com/docmesh/docmesh-backend/internal/platform/neo4jdb"
	"github.com/docmesh/docmesh-backend/internal/platform/openai"
	"github.com/docmesh/docmesh-backend/internal/realtime"
	"github.com/docmesh/docmesh-backend/internal/realtime/bus"
	"github.com/docmesh/docmesh-backend/internal/repos"
	"github.com/docmesh/docmesh-backend/internal/services"
	"github.com/docmesh/docmesh-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Env
	log.Info("Loading environment variables from main...")
	collection := utils.GetEnv("MILVUS_COLLECTION", "doc_chunks", log)
	embedDim := utils.GetEnvAsInt("EMBED_DIM", 1536, log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Fatal("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	documentRepo := repos.NewDocumentRepo(thePG, log)
	taskRunRepo := repos.NewTaskRunRepo(thePG, log)

	// Clients
	log.Info("Setting up platform clients from main...")
	aiClient, err := openai.NewClient(log)
	if err != nil {
		log.Fatal("OpenAI client init failed", "error", err)
	}

	milvusClient, err := milvusdb.NewFromEnv(log)
	if err != nil {
		log.Fatal("Milvus init failed", "error", err)
	}
	defer milvusClient.Close(context.Background())
	if err := milvusClient.EnsureCollection(ctx, collection, embedDim); err != nil {
		log.Fatal("Milvus collection init failed", "error", err)
	}

	neo4jClient, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Fatal("Neo4j init failed", "error", err)
	}
	defer neo4jClient.Close(context.Background())
	knowledgeGraph := graph.NewKnowledgeGraph(neo4jClient, log)
	knowledgeGraph.EnsureSchema(ctx)

	fileStore, err := filestore.NewLocalFromEnv(log)
	if err != nil {
		log.Fatal("File store init failed", "error", err)
	}

	// Notification bus (optional)
	var notifier services.TaskNotifier
	if os.Getenv("REDIS_ADDR") != "" {
		taskBus, err := bus.NewRedisBus(log)
		if err != nil {
			log.Fatal("Redis bus init failed", "error", err)
		}
		defer taskBus.Close()
		if err := taskBus.StartForwarder(ctx, func(m realtime.TaskEvent) {
			log.Info("task event", "channel", m.Channel, "event", m.Event)
		}); err != nil {
			log.Warn("Bus forwarder failed to start", "error", err)
		}
		notifier = services.NewBusNotifier(taskBus, log)
	} else {
		log.Info("REDIS_ADDR not set, task events disabled")
		notifier = services.NewNopNotifier()
	}

	// Services
	log.Info("Setting up Services from main...")
	resolver := services.NewContentResolver(fileStore)
	extractor := services.NewLLMExtractor(aiClient, log)
	vectorIndex := services.NewMilvusVectorIndex(milvusClient, collection)

	pipeline := services.NewPipelineService(
		log,
		documentRepo,
		taskRunRepo,
		resolver,
		aiClient,
		aiClient,
		aiClient,
		extractor,
		vectorIndex,
		knowledgeGraph,
		fileStore,
		notifier,
	)
	documentService := services.NewDocumentService(log, documentRepo, taskRunRepo, pipeline)
	retrieval := services.NewRetrievalService(log, aiClient, vectorIndex, knowledgeGraph)

	// One-shot mode: `docmesh process <document-id>` runs the pipeline for
	// a single document and exits.
	if len(os.Args) > 2 && os.Args[1] == "process" {
		id, err := uuid.Parse(os.Args[2])
		if err != nil {
			log.Fatal("invalid document id", "arg", os.Args[2], "error", err)
		}
		if err := documentService.Process(ctx, id); err != nil {
			log.Fatal("processing failed", "document_id", id, "error", err)
		}
		log.Info("processing complete", "document_id", id)
		return
	}

	// One-shot mode: `docmesh search <creator-id> <query...>` runs a hybrid
	// search scoped to one creator and prints the hits.
	if len(os.Args) > 3 && os.Args[1] == "search" {
		creatorID, err := uuid.Parse(os.Args[2])
		if err != nil {
			log.Fatal("invalid creator id", "arg", os.Args[2], "error", err)
		}
		query := strings.Join(os.Args[3:], " ")
		hits, err := retrieval.Search(ctx, creatorID, query, services.SearchOptions{})
		if err != nil {
			log.Fatal("search failed", "error", err)
		}
		for _, hit := range hits {
			fmt.Printf("%.3f  %s  doc=%s idx=%d\n  %s\n", hit.Score, hit.ChunkID, hit.DocID, hit.Idx, hit.Text)
		}
		log.Info("search complete", "query", query, "hits", len(hits))
		return
	}

	log.Info("docmesh pipeline ready")
	<-ctx.Done()
	log.Info("shutting down")
}
