package dal

import "context"

// CreateProject stores a new project owned by ownerID and returns its ID.
func (d *DAL) CreateProject(ctx context.Context, ownerID string, data Data) (id string, err error) {
	defer d.track("createProject")(&err)
	return d.projects.create(ctx, "createProject", ownerID, data)
}

// ListProjects returns every project, newest first.
func (d *DAL) ListProjects(ctx context.Context) (_ []Project, err error) {
	defer d.track("listProjects")(&err)
	return d.projects.listAll(ctx)
}

// ListMyProjects returns the projects owned by ownerID, newest first.
func (d *DAL) ListMyProjects(ctx context.Context, ownerID string) (_ []Project, err error) {
	defer d.track("listMyProjects")(&err)
	return d.projects.listMine(ctx, ownerID)
}

// ListPublicProjects returns projects marked public that ownerID does not own.
func (d *DAL) ListPublicProjects(ctx context.Context, ownerID string) (_ []Project, err error) {
	defer d.track("listPublicProjects")(&err)
	return d.projects.listPublic(ctx, ownerID)
}

func (d *DAL) GetProject(ctx context.Context, id string) (_ Project, err error) {
	defer d.track("getProject")(&err)
	return d.projects.get(ctx, id)
}

func (d *DAL) UpdateProject(ctx context.Context, id string, partial Data) (err error) {
	defer d.track("updateProject")(&err)
	return d.projects.update(ctx, "updateProject", id, partial)
}

// DeleteProject removes the project document. Models, agents and chats keep
// the project's ID in their projectIds.
func (d *DAL) DeleteProject(ctx context.Context, id string) (err error) {
	defer d.track("deleteProject")(&err)
	return d.projects.remove(ctx, "deleteProject", id)
}
