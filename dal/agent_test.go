package dal_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/agentbench/archive"
	"github.com/stevemurr/agentbench/dal"
	"github.com/stevemurr/agentbench/store"
)

func TestCreateAgentSeedsDeployment(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDAL(t)

	id, err := d.CreateAgent(ctx, "alice", dal.Data{
		"name":             "helper",
		"userId":           "mallory",
		"deploymentStatus": "deployed",
		"instructions":     "be brief",
	})
	require.NoError(t, err)

	a, err := d.GetAgent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", a.OwnerID)
	assert.Equal(t, "helper", a.Name)
	assert.Equal(t, dal.NotDeployed, a.Deployment.Status)
	assert.Nil(t, a.Deployment.VertexAIResourceName)
	assert.Nil(t, a.Deployment.LastDeployedAt)
	assert.Nil(t, a.Deployment.LastDeploymentAttemptAt)
	assert.Nil(t, a.Deployment.Error)
	assert.Contains(t, a.Data, "deploymentError")
	assert.Equal(t, "be brief", a.Data["instructions"])

	mine, err := d.ListMyAgents(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, id, mine[0].ID)
}

func TestImportAgentDropsID(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDAL(t)

	data := dal.Data{"id": "chosen-by-caller", "name": "imported"}
	id, err := d.ImportAgent(ctx, "bob", data)
	require.NoError(t, err)
	assert.NotEqual(t, "chosen-by-caller", id)
	assert.Contains(t, data, "id", "caller data is not modified")

	a, err := d.GetAgent(ctx, id)
	require.NoError(t, err)
	assert.NotContains(t, a.Data, "id")
	assert.Equal(t, "bob", a.OwnerID)
}

func TestAgentUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDAL(t)

	id, err := d.CreateAgent(ctx, "alice", dal.Data{"name": "a", "projectIds": []string{"p1"}})
	require.NoError(t, err)
	require.NoError(t, d.UpdateAgent(ctx, id, dal.Data{"name": "b", "isPublic": true}))

	a, err := d.GetAgent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "b", a.Name)
	assert.True(t, a.IsPublic)
	assert.True(t, a.UpdatedAt.After(*a.CreatedAt))

	byProject, err := d.ListAgentsForProjects(ctx, []string{"p1"})
	require.NoError(t, err)
	require.Len(t, byProject, 1)

	require.NoError(t, d.DeleteAgent(ctx, id))
	_, err = d.GetAgent(ctx, id)
	assert.ErrorIs(t, err, dal.ErrNotFound)
}

func TestUpdateAgentDeployment(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDAL(t)

	id, err := d.CreateAgent(ctx, "alice", dal.Data{"name": "a"})
	require.NoError(t, err)

	require.NoError(t, d.UpdateAgentDeployment(ctx, id, dal.DeploymentState{Status: dal.Deploying}))
	a, err := d.GetAgent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, dal.Deploying, a.Deployment.Status)
	require.NotNil(t, a.Deployment.LastDeploymentAttemptAt)
	assert.Nil(t, a.Deployment.LastDeployedAt)

	resource := "projects/p/locations/l/reasoningEngines/1"
	require.NoError(t, d.UpdateAgentDeployment(ctx, id, dal.DeploymentState{
		Status:               dal.Deployed,
		VertexAIResourceName: &resource,
	}))
	a, err = d.GetAgent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, dal.Deployed, a.Deployment.Status)
	require.NotNil(t, a.Deployment.VertexAIResourceName)
	assert.Equal(t, resource, *a.Deployment.VertexAIResourceName)
	require.NotNil(t, a.Deployment.LastDeployedAt)
	assert.Equal(t, *a.Deployment.LastDeploymentAttemptAt, *a.Deployment.LastDeployedAt)
	assert.Equal(t, *a.Deployment.LastDeployedAt, *a.UpdatedAt)
	deployedAt := *a.Deployment.LastDeployedAt

	msg := "quota exceeded"
	require.NoError(t, d.UpdateAgentDeployment(ctx, id, dal.DeploymentState{Status: dal.DeploymentFailed, Error: &msg}))
	a, err = d.GetAgent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, dal.DeploymentFailed, a.Deployment.Status)
	require.NotNil(t, a.Deployment.Error)
	assert.Equal(t, msg, *a.Deployment.Error)
	assert.Nil(t, a.Deployment.VertexAIResourceName)
	assert.Equal(t, deployedAt, *a.Deployment.LastDeployedAt, "a failed attempt keeps the last deployment time")
	assert.True(t, a.Deployment.LastDeploymentAttemptAt.After(deployedAt))

	explicit := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, d.UpdateAgentDeployment(ctx, id, dal.DeploymentState{Status: dal.Deployed, LastDeployedAt: &explicit}))
	a, err = d.GetAgent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, explicit, *a.Deployment.LastDeployedAt)

	err = d.UpdateAgentDeployment(ctx, "ghost", dal.DeploymentState{Status: dal.Deployed})
	require.ErrorIs(t, err, dal.ErrWriteFailure)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAgentArchive(t *testing.T) {
	ctx := context.Background()
	arch := archive.NewMemoryStore()
	d, _ := newTestDAL(t, dal.WithArchive(arch))

	id, err := d.CreateAgent(ctx, "alice", dal.Data{"name": "exported", "tools": []string{"search"}})
	require.NoError(t, err)
	require.NoError(t, d.UpdateAgentDeployment(ctx, id, dal.DeploymentState{Status: dal.Deployed}))

	key, err := d.ExportAgent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, archive.AgentKey(id), key)

	body, err := arch.Get(ctx, key)
	require.NoError(t, err)
	var def map[string]any
	require.NoError(t, json.Unmarshal(body, &def))
	assert.Equal(t, id, def["id"])
	assert.Equal(t, "exported", def["name"])
	for _, f := range []string{"userId", "createdAt", "updatedAt", "deploymentStatus", "lastDeployedAt"} {
		assert.NotContains(t, def, f)
	}

	keys, err := d.ListArchivedAgents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)

	copyID, err := d.ImportAgentFromArchive(ctx, "bob", key)
	require.NoError(t, err)
	assert.NotEqual(t, id, copyID)

	cp, err := d.GetAgent(ctx, copyID)
	require.NoError(t, err)
	assert.Equal(t, "bob", cp.OwnerID)
	assert.Equal(t, "exported", cp.Name)
	assert.Equal(t, dal.NotDeployed, cp.Deployment.Status)
	assert.Equal(t, []any{"search"}, cp.Data["tools"])

	_, err = d.ImportAgentFromArchive(ctx, "bob", archive.AgentKey("ghost"))
	assert.ErrorIs(t, err, dal.ErrNotFound)

	_, err = d.ExportAgent(ctx, "ghost")
	assert.ErrorIs(t, err, dal.ErrNotFound)
}

func TestAgentArchiveNotConfigured(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDAL(t)

	_, err := d.ExportAgent(ctx, "a1")
	assert.ErrorIs(t, err, dal.ErrNoArchive)
	_, err = d.ImportAgentFromArchive(ctx, "bob", "agents/a1.json")
	assert.ErrorIs(t, err, dal.ErrNoArchive)
	_, err = d.ListArchivedAgents(ctx)
	assert.ErrorIs(t, err, dal.ErrNoArchive)
}
