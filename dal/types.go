package dal

import (
	"encoding/json"
	"time"

	"github.com/stevemurr/agentbench/store"
)

// Every entity keeps the full stored document in Data next to the typed
// fields it exposes; JSON output is the document plus its "id".

type Project struct {
	ID        string
	OwnerID   string
	Name      string
	CreatedAt *time.Time
	UpdatedAt *time.Time
	Data      Data
}

type Model struct {
	ID         string
	OwnerID    string
	Name       string
	IsPublic   bool
	ProjectIDs []string
	CreatedAt  *time.Time
	UpdatedAt  *time.Time
	Data       Data
}

// DeploymentStatus is the lifecycle state of an agent deployment.
type DeploymentStatus string

const (
	NotDeployed      DeploymentStatus = "not_deployed"
	Deploying        DeploymentStatus = "deploying"
	Deployed         DeploymentStatus = "deployed"
	DeploymentFailed DeploymentStatus = "failed"
)

func (s DeploymentStatus) valid() bool {
	switch s {
	case NotDeployed, Deploying, Deployed, DeploymentFailed:
		return true
	}
	return false
}

// DeploymentState is the deployment sub-state of an agent, written by the
// external deployment workflow.
type DeploymentState struct {
	Status                  DeploymentStatus
	VertexAIResourceName    *string
	LastDeployedAt          *time.Time
	LastDeploymentAttemptAt *time.Time
	Error                   *string
}

type Agent struct {
	ID         string
	OwnerID    string // stored as "userId"
	Name       string
	IsPublic   bool
	ProjectIDs []string
	Deployment DeploymentState
	CreatedAt  *time.Time
	UpdatedAt  *time.Time
	Data       Data
}

type Chat struct {
	ID               string
	OwnerID          string
	ProjectIDs       []string
	CreatedAt        *time.Time
	LastInteractedAt *time.Time
	UpdatedAt        *time.Time
	Data             Data
}

// Message is one node of a chat's message tree.
type Message struct {
	ID              string
	ChatID          string
	ParentMessageID *string // nil for a root message
	ChildMessageIDs []string
	Timestamp       *time.Time
	Data            Data
}

// Run is a legacy agent execution record.
type Run struct {
	ID        string
	AgentID   string
	Status    string
	Timestamp *time.Time
	Data      Data
}

// UserProfile is keyed by the identity provider's uid.
type UserProfile struct {
	UID                      string
	Email                    string
	DisplayName              *string
	PhotoURL                 *string
	CreatedAt                *time.Time
	LastLoginAt              *time.Time
	Permissions              map[string]any
	PermissionsLastUpdatedAt *time.Time
	Data                     Data
}

// PendingReview reports whether an admin has never set permissions.
func (u UserProfile) PendingReview() bool {
	_, ok := u.Data["permissions"]
	return !ok
}

// AuthUser is the identity handed over by the authenticator.
type AuthUser struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	PhotoURL    string `json:"photoURL,omitempty"`
}

func flatten(id string, data Data) ([]byte, error) {
	out := make(map[string]any, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out["id"] = id
	return json.Marshal(out)
}

func (p Project) MarshalJSON() ([]byte, error)     { return flatten(p.ID, p.Data) }
func (m Model) MarshalJSON() ([]byte, error)       { return flatten(m.ID, m.Data) }
func (a Agent) MarshalJSON() ([]byte, error)       { return flatten(a.ID, a.Data) }
func (c Chat) MarshalJSON() ([]byte, error)        { return flatten(c.ID, c.Data) }
func (m Message) MarshalJSON() ([]byte, error)     { return flatten(m.ID, m.Data) }
func (r Run) MarshalJSON() ([]byte, error)         { return flatten(r.ID, r.Data) }
func (u UserProfile) MarshalJSON() ([]byte, error) { return flatten(u.UID, u.Data) }

// ---------- field readers ----------

func str(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

func strPtr(data map[string]any, key string) *string {
	s, ok := data[key].(string)
	if !ok {
		return nil
	}
	return &s
}

func boolean(data map[string]any, key string) bool {
	b, _ := data[key].(bool)
	return b
}

func timePtr(data map[string]any, key string) *time.Time {
	t, ok := data[key].(time.Time)
	if !ok {
		return nil
	}
	return &t
}

func stringList(data map[string]any, key string) []string {
	list, _ := data[key].([]any)
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// ---------- decoders ----------

func decodeProject(doc store.Document) Project {
	return Project{
		ID:        doc.ID,
		OwnerID:   str(doc.Data, "ownerId"),
		Name:      str(doc.Data, "name"),
		CreatedAt: timePtr(doc.Data, "createdAt"),
		UpdatedAt: timePtr(doc.Data, "updatedAt"),
		Data:      doc.Data,
	}
}

func decodeModel(doc store.Document) Model {
	return Model{
		ID:         doc.ID,
		OwnerID:    str(doc.Data, "ownerId"),
		Name:       str(doc.Data, "name"),
		IsPublic:   boolean(doc.Data, "isPublic"),
		ProjectIDs: stringList(doc.Data, "projectIds"),
		CreatedAt:  timePtr(doc.Data, "createdAt"),
		UpdatedAt:  timePtr(doc.Data, "updatedAt"),
		Data:       doc.Data,
	}
}

func decodeAgent(doc store.Document) Agent {
	return Agent{
		ID:         doc.ID,
		OwnerID:    str(doc.Data, "userId"),
		Name:       str(doc.Data, "name"),
		IsPublic:   boolean(doc.Data, "isPublic"),
		ProjectIDs: stringList(doc.Data, "projectIds"),
		Deployment: DeploymentState{
			Status:                  DeploymentStatus(str(doc.Data, "deploymentStatus")),
			VertexAIResourceName:    strPtr(doc.Data, "vertexAiResourceName"),
			LastDeployedAt:          timePtr(doc.Data, "lastDeployedAt"),
			LastDeploymentAttemptAt: timePtr(doc.Data, "lastDeploymentAttemptAt"),
			Error:                   strPtr(doc.Data, "deploymentError"),
		},
		CreatedAt: timePtr(doc.Data, "createdAt"),
		UpdatedAt: timePtr(doc.Data, "updatedAt"),
		Data:      doc.Data,
	}
}

func decodeChat(doc store.Document) Chat {
	return Chat{
		ID:               doc.ID,
		OwnerID:          str(doc.Data, "ownerId"),
		ProjectIDs:       stringList(doc.Data, "projectIds"),
		CreatedAt:        timePtr(doc.Data, "createdAt"),
		LastInteractedAt: timePtr(doc.Data, "lastInteractedAt"),
		UpdatedAt:        timePtr(doc.Data, "updatedAt"),
		Data:             doc.Data,
	}
}

func decodeMessage(chatID string, doc store.Document) Message {
	m := Message{
		ID:              doc.ID,
		ChatID:          chatID,
		ChildMessageIDs: stringList(doc.Data, "childMessageIds"),
		Timestamp:       timePtr(doc.Data, "timestamp"),
		Data:            doc.Data,
	}
	if p := str(doc.Data, "parentMessageId"); p != "" {
		m.ParentMessageID = &p
	}
	return m
}

func decodeRun(agentID string, doc store.Document) Run {
	return Run{
		ID:        doc.ID,
		AgentID:   agentID,
		Status:    str(doc.Data, "status"),
		Timestamp: timePtr(doc.Data, "timestamp"),
		Data:      doc.Data,
	}
}

func decodeUser(doc store.Document) UserProfile {
	u := UserProfile{
		UID:                      doc.ID,
		Email:                    str(doc.Data, "email"),
		DisplayName:              strPtr(doc.Data, "displayName"),
		PhotoURL:                 strPtr(doc.Data, "photoURL"),
		CreatedAt:                timePtr(doc.Data, "createdAt"),
		LastLoginAt:              timePtr(doc.Data, "lastLoginAt"),
		PermissionsLastUpdatedAt: timePtr(doc.Data, "permissionsLastUpdatedAt"),
		Data:                     doc.Data,
	}
	u.Permissions, _ = doc.Data["permissions"].(map[string]any)
	return u
}
