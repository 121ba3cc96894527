package dal

import "context"

// CreateModel stores a new model owned by ownerID. isPublic defaults to false.
func (d *DAL) CreateModel(ctx context.Context, ownerID string, data Data) (id string, err error) {
	defer d.track("createModel")(&err)
	return d.models.create(ctx, "createModel", ownerID, withDefault(data, "isPublic", false))
}

func (d *DAL) ListMyModels(ctx context.Context, ownerID string) (_ []Model, err error) {
	defer d.track("listMyModels")(&err)
	return d.models.listMine(ctx, ownerID)
}

func (d *DAL) ListPublicModels(ctx context.Context, ownerID string) (_ []Model, err error) {
	defer d.track("listPublicModels")(&err)
	return d.models.listPublic(ctx, ownerID)
}

func (d *DAL) ListModelsForProjects(ctx context.Context, projectIDs []string) (_ []Model, err error) {
	defer d.track("listModelsForProjects")(&err)
	return d.models.listForProjects(ctx, projectIDs)
}

func (d *DAL) GetModel(ctx context.Context, id string) (_ Model, err error) {
	defer d.track("getModel")(&err)
	return d.models.get(ctx, id)
}

func (d *DAL) UpdateModel(ctx context.Context, id string, partial Data) (err error) {
	defer d.track("updateModel")(&err)
	return d.models.update(ctx, "updateModel", id, partial)
}

func (d *DAL) DeleteModel(ctx context.Context, id string) (err error) {
	defer d.track("deleteModel")(&err)
	return d.models.remove(ctx, "deleteModel", id)
}

// withDefault returns a copy of data with key set to v when it is absent or null.
func withDefault(data Data, key string, v any) Data {
	out := make(Data, len(data)+1)
	for k, val := range data {
		out[k] = val
	}
	if cur, ok := out[key]; !ok || cur == nil {
		out[key] = v
	}
	return out
}
