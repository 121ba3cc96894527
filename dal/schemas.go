package dal

// Built-in schemas for caller-supplied data. They pin the types of the
// fields the DAL reads back and leave everything else free-form.

func prop(types ...any) map[string]any {
	if len(types) == 1 {
		return map[string]any{"type": types[0]}
	}
	return map[string]any{"type": types}
}

func stringArray() map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
}

func object(props map[string]any) map[string]any {
	return map[string]any{"type": "object", "properties": props}
}

func defaultSchemas() map[string]map[string]any {
	return map[string]map[string]any{
		ProjectsCollection: object(map[string]any{
			"name":        prop("string"),
			"description": prop("string", "null"),
			"ownerId":     prop("string"),
		}),
		ModelsCollection: object(map[string]any{
			"name":       prop("string"),
			"isPublic":   prop("boolean", "null"),
			"projectIds": stringArray(),
			"ownerId":    prop("string"),
		}),
		AgentsCollection: object(map[string]any{
			"name":       prop("string"),
			"isPublic":   prop("boolean", "null"),
			"projectIds": stringArray(),
			"userId":     prop("string"),
		}),
		ChatsCollection: object(map[string]any{
			"title":      prop("string", "null"),
			"projectIds": stringArray(),
			"ownerId":    prop("string"),
		}),
		MessagesCollection: object(map[string]any{
			"parentMessageId": prop("string", "null"),
			"childMessageIds": stringArray(),
		}),
		UsersCollection: object(map[string]any{
			"uid":         map[string]any{"type": "string", "minLength": int64(1)},
			"email":       prop("string"),
			"displayName": prop("string", "null"),
			"photoURL":    prop("string", "null"),
			"permissions": prop("object", "null"),
		}),
	}
}
