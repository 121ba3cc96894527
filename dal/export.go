package dal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stevemurr/agentbench/archive"
)

// serverFields are owned by the DAL or the deployment workflow and are left
// out of exported agent definitions.
var serverFields = []string{
	"userId", "createdAt", "updatedAt",
	"deploymentStatus", "vertexAiResourceName", "lastDeployedAt",
	"lastDeploymentAttemptAt", "deploymentError",
}

// ExportAgent writes the agent's definition to the archive as JSON and
// returns the archive key.
func (d *DAL) ExportAgent(ctx context.Context, id string) (key string, err error) {
	defer d.track("exportAgent")(&err)
	if d.archive == nil {
		return "", ErrNoArchive
	}
	a, err := d.agents.get(ctx, id)
	if err != nil {
		return "", err
	}
	def := make(map[string]any, len(a.Data)+1)
	for k, v := range a.Data {
		def[k] = v
	}
	for _, f := range serverFields {
		delete(def, f)
	}
	def["id"] = a.ID
	body, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding agent %s: %w", id, err)
	}
	key = archive.AgentKey(a.ID)
	if err := d.archive.Put(ctx, key, body); err != nil {
		return "", &WriteError{Op: "exportAgent", Err: err}
	}
	return key, nil
}

// ImportAgentFromArchive creates a new agent owned by ownerID from an
// exported definition. The exported ID is discarded.
func (d *DAL) ImportAgentFromArchive(ctx context.Context, ownerID, key string) (id string, err error) {
	defer d.track("importAgentFromArchive")(&err)
	if d.archive == nil {
		return "", ErrNoArchive
	}
	body, err := d.archive.Get(ctx, key)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			return "", &NotFoundError{Kind: "archived agent", ID: key}
		}
		return "", fmt.Errorf("reading archived agent %s: %w", key, err)
	}
	var data Data
	if err := json.Unmarshal(body, &data); err != nil {
		return "", invalid("archived agent %s: %v", key, err)
	}
	if data == nil {
		return "", invalid("archived agent %s is not an object", key)
	}
	return d.createAgent(ctx, "importAgentFromArchive", ownerID, data, true)
}

// ListArchivedAgents returns the archive keys of exported agents.
func (d *DAL) ListArchivedAgents(ctx context.Context) (_ []string, err error) {
	defer d.track("listArchivedAgents")(&err)
	if d.archive == nil {
		return nil, ErrNoArchive
	}
	keys, err := d.archive.List(ctx, archive.AgentPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing archived agents: %w", err)
	}
	return keys, nil
}
