package main

import (
	"context"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"breathwork-agent/handler"
	"breathwork-agent/internal/guides"
	"breathwork-agent/internal/integrations/assistants"
	"breathwork-agent/internal/integrations/paramstore"
	"breathwork-agent/internal/log"
	"breathwork-agent/internal/repository"
	"breathwork-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	log.Configure(log.Config{Level: os.Getenv("LOG_LEVEL")})
	logger := log.WithComponent("main")

	// ---- Configuration (read only here) ----
	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	maxQuestionLen := envInt("MAX_QUESTION_LENGTH", 500)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load AWS config")
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create SSM client")
	}
	sessionStore, err := repository.New(awsdynamodb.NewFromConfig(cfg), stateTable)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create session store")
	}
	assistantClient, err := assistants.NewClient(ssmClient, paramPrefix)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create assistants client")
	}
	guideProvider, err := guides.New(ssmClient, paramPrefix)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create guide provider")
	}

	// ---- Handler ----
	answerService, err := usecase.NewAnswerService(
		ssmClient,
		assistantClient,
		sessionStore,
		guideProvider,
		log.WithComponent("usecase"),
		paramPrefix,
		maxQuestionLen,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create answer service")
	}

	h, err := handler.NewHandler(answerService, log.WithComponent("handler"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create handler")
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		logger := log.WithComponent("main")
		logger.Fatal().Str("key", key).Msg("required environment variable is not set")
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
