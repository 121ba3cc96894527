package dal

import (
	"context"

	"github.com/stevemurr/agentbench/store"
)

// CreateAgent stores a new agent owned by ownerID with its deployment state
// reset. isPublic defaults to false.
func (d *DAL) CreateAgent(ctx context.Context, ownerID string, data Data) (id string, err error) {
	defer d.track("createAgent")(&err)
	return d.createAgent(ctx, "createAgent", ownerID, data, false)
}

// ImportAgent is CreateAgent for agent definitions coming from elsewhere: a
// caller-supplied "id" field is dropped so the store always assigns the ID.
func (d *DAL) ImportAgent(ctx context.Context, ownerID string, data Data) (id string, err error) {
	defer d.track("importAgent")(&err)
	return d.createAgent(ctx, "importAgent", ownerID, data, true)
}

func (d *DAL) createAgent(ctx context.Context, op, ownerID string, data Data, importing bool) (string, error) {
	if ownerID == "" {
		return "", invalid("agent owner is required")
	}
	data = withDefault(data, "isPublic", false)
	if importing {
		delete(data, "id")
	}
	doc, err := d.prepare(AgentsCollection, data, false)
	if err != nil {
		return "", err
	}
	doc["userId"] = ownerID
	doc["createdAt"] = store.ServerTimestamp
	doc["updatedAt"] = store.ServerTimestamp
	doc["deploymentStatus"] = string(NotDeployed)
	doc["vertexAiResourceName"] = nil
	doc["lastDeployedAt"] = nil
	doc["lastDeploymentAttemptAt"] = nil
	doc["deploymentError"] = nil
	return d.agents.insert(ctx, op, doc)
}

func (d *DAL) ListMyAgents(ctx context.Context, ownerID string) (_ []Agent, err error) {
	defer d.track("listMyAgents")(&err)
	return d.agents.listMine(ctx, ownerID)
}

func (d *DAL) ListPublicAgents(ctx context.Context, ownerID string) (_ []Agent, err error) {
	defer d.track("listPublicAgents")(&err)
	return d.agents.listPublic(ctx, ownerID)
}

func (d *DAL) ListAgentsForProjects(ctx context.Context, projectIDs []string) (_ []Agent, err error) {
	defer d.track("listAgentsForProjects")(&err)
	return d.agents.listForProjects(ctx, projectIDs)
}

func (d *DAL) GetAgent(ctx context.Context, id string) (_ Agent, err error) {
	defer d.track("getAgent")(&err)
	return d.agents.get(ctx, id)
}

func (d *DAL) UpdateAgent(ctx context.Context, id string, partial Data) (err error) {
	defer d.track("updateAgent")(&err)
	return d.agents.update(ctx, "updateAgent", id, partial)
}

func (d *DAL) DeleteAgent(ctx context.Context, id string) (err error) {
	defer d.track("deleteAgent")(&err)
	return d.agents.remove(ctx, "deleteAgent", id)
}

// UpdateAgentDeployment records the outcome of a deployment attempt. The
// attempt time is stamped by the store; so is the deployment time when the
// status is Deployed and no explicit time is given.
func (d *DAL) UpdateAgentDeployment(ctx context.Context, id string, state DeploymentState) (err error) {
	defer d.track("updateAgentDeployment")(&err)
	if id == "" {
		return &NotFoundError{Kind: "agent", ID: id}
	}
	if !state.Status.valid() {
		return invalid("unknown deployment status %q", state.Status)
	}
	fields := map[string]any{
		"deploymentStatus":        string(state.Status),
		"vertexAiResourceName":    store.Normalize(state.VertexAIResourceName),
		"deploymentError":         store.Normalize(state.Error),
		"lastDeploymentAttemptAt": store.ServerTimestamp,
		"updatedAt":               store.ServerTimestamp,
	}
	if state.LastDeploymentAttemptAt != nil {
		fields["lastDeploymentAttemptAt"] = *state.LastDeploymentAttemptAt
	}
	switch {
	case state.LastDeployedAt != nil:
		fields["lastDeployedAt"] = *state.LastDeployedAt
	case state.Status == Deployed:
		fields["lastDeployedAt"] = store.ServerTimestamp
	}
	return d.commit(ctx, "updateAgentDeployment", store.NewBatch().Update(AgentsCollection, id, fields))
}
