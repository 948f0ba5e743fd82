package bootstrap

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/stayware/cohost-platform/internal/config"
)

func TestBuildConversationRuntime_RequiresConfig(t *testing.T) {
	_, err := BuildConversationRuntime(context.Background(), nil, aws.Config{}, nil, nil)
	assert.Error(t, err)
}

func TestBuildConversationRuntime_RequiresRedis(t *testing.T) {
	cfg := &appconfig.Config{}
	_, err := BuildConversationRuntime(context.Background(), cfg, aws.Config{}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func TestBuildConversationRuntime_RequiresDatabase(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &appconfig.Config{RedisAddr: mr.Addr()}

	_, err := BuildConversationRuntime(context.Background(), cfg, aws.Config{}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database")
}

func TestBuildRedisClient_VerifyAgainstLiveServer(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &appconfig.Config{RedisAddr: mr.Addr()}

	client := BuildRedisClient(context.Background(), cfg, nil, true)
	require.NotNil(t, client)
	t.Cleanup(func() { client.Close() })
}

func TestBuildRedisClient_VerifyFailureReturnsNil(t *testing.T) {
	cfg := &appconfig.Config{RedisAddr: "127.0.0.1:1"}
	assert.Nil(t, BuildRedisClient(context.Background(), cfg, nil, true))
}

func TestBuildRedisClient_EmptyAddrDisabled(t *testing.T) {
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{}, nil, false))
}

func TestBuildDB_EmptyURLDisabled(t *testing.T) {
	db, err := BuildDB(&appconfig.Config{}, nil)
	require.NoError(t, err)
	assert.Nil(t, db)
}
