package diff

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/luizgaroland/warhammer40kPapaMeta/internal/catalog"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/extract"
)

// Compare diffs the prior snapshot's entity states against the candidate's
// and returns the change records to commit with the promotion. Entities only
// in prior yield removed records, entities only in the candidate yield added
// records carrying the full attribute set, and entities in both yield one
// modified record per differing leaf field.
func Compare(prior, candidate map[catalog.EntityKey]catalog.EntityState) ([]catalog.ChangeInput, error) {
	var changes []catalog.ChangeInput

	keys := unionKeys(prior, candidate)
	for _, key := range keys {
		oldState, inPrior := prior[key]
		newState, inCandidate := candidate[key]

		switch {
		case inPrior && !inCandidate:
			recs, err := entityRemoved(key, oldState.Attrs)
			if err != nil {
				return nil, err
			}
			changes = append(changes, recs...)
		case !inPrior && inCandidate:
			recs, err := entityAdded(key, newState.Attrs)
			if err != nil {
				return nil, err
			}
			changes = append(changes, recs...)
		default:
			recs, err := entityModified(key, oldState.Attrs, newState.Attrs)
			if err != nil {
				return nil, err
			}
			changes = append(changes, recs...)
		}
	}
	return changes, nil
}

func entityAdded(key catalog.EntityKey, attrs extract.Attrs) ([]catalog.ChangeInput, error) {
	leaves, err := Flatten(attrs)
	if err != nil {
		return nil, err
	}
	records := make([]catalog.ChangeInput, 0, len(leaves))
	for _, field := range sortedFields(leaves) {
		encoded, err := encodeValue(leaves[field])
		if err != nil {
			return nil, err
		}
		records = append(records, catalog.ChangeInput{
			EntityType:   key.Type,
			EntityID:     key.ID,
			FieldChanged: field,
			NewValue:     encoded,
			ChangeType:   catalog.ChangeAdded,
		})
	}
	return records, nil
}

func entityRemoved(key catalog.EntityKey, attrs extract.Attrs) ([]catalog.ChangeInput, error) {
	leaves, err := Flatten(attrs)
	if err != nil {
		return nil, err
	}
	records := make([]catalog.ChangeInput, 0, len(leaves))
	for _, field := range sortedFields(leaves) {
		encoded, err := encodeValue(leaves[field])
		if err != nil {
			return nil, err
		}
		records = append(records, catalog.ChangeInput{
			EntityType:   key.Type,
			EntityID:     key.ID,
			FieldChanged: field,
			OldValue:     encoded,
			ChangeType:   catalog.ChangeRemoved,
		})
	}
	return records, nil
}

func entityModified(key catalog.EntityKey, oldAttrs, newAttrs extract.Attrs) ([]catalog.ChangeInput, error) {
	oldLeaves, err := Flatten(oldAttrs)
	if err != nil {
		return nil, err
	}
	newLeaves, err := Flatten(newAttrs)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]struct{}, len(oldLeaves)+len(newLeaves))
	for field := range oldLeaves {
		fields[field] = struct{}{}
	}
	for field := range newLeaves {
		fields[field] = struct{}{}
	}

	ordered := make([]string, 0, len(fields))
	for field := range fields {
		ordered = append(ordered, field)
	}
	sort.Strings(ordered)

	var records []catalog.ChangeInput
	for _, field := range ordered {
		oldValue, hadOld := oldLeaves[field]
		newValue, hasNew := newLeaves[field]

		oldEncoded, err := encodeValue(oldValue)
		if err != nil {
			return nil, err
		}
		newEncoded, err := encodeValue(newValue)
		if err != nil {
			return nil, err
		}
		if hadOld && hasNew && equalEncoded(oldEncoded, newEncoded) {
			continue
		}
		if !hadOld {
			oldEncoded = nil
		}
		if !hasNew {
			newEncoded = nil
		}
		// A null-to-value transition is still a change.
		records = append(records, catalog.ChangeInput{
			EntityType:   key.Type,
			EntityID:     key.ID,
			FieldChanged: field,
			OldValue:     oldEncoded,
			NewValue:     newEncoded,
			ChangeType:   catalog.ChangeModified,
		})
	}
	return records, nil
}

// Flatten reduces a nested attribute map to dotted leaf paths. Maps recurse;
// every other value, arrays included, is a leaf.
func Flatten(attrs extract.Attrs) (map[string]any, error) {
	leaves := make(map[string]any)
	if err := flattenInto(leaves, "", map[string]any(attrs)); err != nil {
		return nil, err
	}
	return leaves, nil
}

func flattenInto(leaves map[string]any, prefix string, value map[string]any) error {
	for key, val := range value {
		if strings.Contains(key, ".") {
			return fmt.Errorf("attribute key %q contains a path separator", key)
		}
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			if err := flattenInto(leaves, path, nested); err != nil {
				return err
			}
			continue
		}
		if nested, ok := val.(extract.Attrs); ok {
			if err := flattenInto(leaves, path, nested); err != nil {
				return err
			}
			continue
		}
		leaves[path] = val
	}
	return nil
}

// Apply patches one entity's attribute set with its change records,
// reconstructing the newer set. Compare then Apply round-trips exactly.
func Apply(base extract.Attrs, changes []catalog.ChangeInput) (extract.Attrs, error) {
	leaves, err := Flatten(base)
	if err != nil {
		return nil, err
	}
	for _, change := range changes {
		switch change.ChangeType {
		case catalog.ChangeRemoved:
			delete(leaves, change.FieldChanged)
		case catalog.ChangeAdded, catalog.ChangeModified:
			if change.NewValue == nil {
				delete(leaves, change.FieldChanged)
				continue
			}
			var decoded any
			if err := json.Unmarshal([]byte(*change.NewValue), &decoded); err != nil {
				return nil, fmt.Errorf("decode change value for %s: %w", change.FieldChanged, err)
			}
			leaves[change.FieldChanged] = decoded
		default:
			return nil, fmt.Errorf("unknown change type %q", change.ChangeType)
		}
	}
	return unflatten(leaves), nil
}

func unflatten(leaves map[string]any) extract.Attrs {
	attrs := extract.Attrs{}
	for path, value := range leaves {
		parts := strings.Split(path, ".")
		node := map[string]any(attrs)
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = value
	}
	return attrs
}

// encodeValue renders a leaf as canonical JSON so comparisons stay
// type-aware: 100 and "100" differ, null and absent differ from zero.
func encodeValue(value any) (*string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	encoded := string(data)
	return &encoded, nil
}

func equalEncoded(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sortedFields(leaves map[string]any) []string {
	fields := make([]string, 0, len(leaves))
	for field := range leaves {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

func unionKeys(prior, candidate map[catalog.EntityKey]catalog.EntityState) []catalog.EntityKey {
	seen := make(map[catalog.EntityKey]struct{}, len(prior)+len(candidate))
	keys := make([]catalog.EntityKey, 0, len(prior)+len(candidate))
	for key := range prior {
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	for key := range candidate {
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Type != keys[j].Type {
			return keys[i].Type < keys[j].Type
		}
		return keys[i].ID < keys[j].ID
	})
	return keys
}
