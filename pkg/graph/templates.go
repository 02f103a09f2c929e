package graph

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// TemplateSource holds the named read-query templates. The built-in table is
// assembled once at construction; a YAML file can override or extend it and
// is hot reloaded when watched.
type TemplateSource struct {
	mu        sync.RWMutex
	templates map[string]string
	overrides string
	watcher   *fsnotify.Watcher
	done      chan struct{}
	logger    *slog.Logger
}

// NewTemplateSource creates a template source with the built-in templates.
func NewTemplateSource() *TemplateSource {
	return &TemplateSource{
		templates: builtinTemplates(),
	}
}

// WithLogger sets the logger used to report reload outcomes.
func (ts *TemplateSource) WithLogger(logger *slog.Logger) *TemplateSource {
	ts.logger = logger
	return ts
}

// Lookup returns the template with the given name.
// Returns ErrTemplateNotFound for unknown names.
func (ts *TemplateSource) Lookup(name string) (string, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	tmpl, ok := ts.templates[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	return tmpl, nil
}

// Names returns the names of all known templates.
func (ts *TemplateSource) Names() []string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	names := make([]string, 0, len(ts.templates))
	for name := range ts.templates {
		names = append(names, name)
	}
	return names
}

// LoadFile merges template overrides from a YAML file (name -> SQL) over the
// built-in table. A broken file leaves the current table untouched.
func (ts *TemplateSource) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read template file: %w", err)
	}

	var overrides map[string]string
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return fmt.Errorf("failed to parse template file: %w", err)
	}

	merged := builtinTemplates()
	for name, tmpl := range overrides {
		merged[name] = tmpl
	}

	ts.mu.Lock()
	ts.templates = merged
	ts.overrides = path
	ts.mu.Unlock()

	return nil
}

// Watch reloads the template file whenever it changes on disk.
// LoadFile must have been called first.
func (ts *TemplateSource) Watch() error {
	ts.mu.RLock()
	path := ts.overrides
	ts.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("no template file loaded, nothing to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch template file: %w", err)
	}

	done := make(chan struct{})
	ts.mu.Lock()
	ts.watcher = watcher
	ts.done = done
	ts.mu.Unlock()

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := ts.LoadFile(path); err != nil {
					if ts.logger != nil {
						ts.logger.Warn("template reload failed", "path", path, "error", err)
					}
					continue
				}
				if ts.logger != nil {
					ts.logger.Info("templates reloaded", "path", path)
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			case <-done:
				return
			}
		}
	}()

	return nil
}

// Close stops the file watcher if one is running.
func (ts *TemplateSource) Close() error {
	ts.mu.Lock()
	done := ts.done
	watcher := ts.watcher
	ts.done = nil
	ts.watcher = nil
	ts.mu.Unlock()

	if done != nil {
		close(done)
	}
	if watcher != nil {
		return watcher.Close()
	}
	return nil
}

// builtinTemplates returns the full table of named read queries over the
// nodes/edges schema. Parameters bind by name (":sid" binds params["sid"]).
func builtinTemplates() map[string]string {
	return map[string]string{
		// Entities
		"entities_in_scene": `
			SELECT n.id AS id, n.name AS name, n.type AS type
			FROM edges ap
			JOIN nodes n ON n.id = ap.source_id
			WHERE ap.relation = 'APPEARS_IN' AND ap.target_id = :sid AND n.label = 'Entity'
			ORDER BY n.name`,

		"entities_in_story": `
			SELECT DISTINCT n.id AS id, n.name AS name
			FROM edges hs
			JOIN edges ap ON ap.target_id = hs.target_id AND ap.relation = 'APPEARS_IN'
			JOIN nodes n ON n.id = ap.source_id
			WHERE hs.source_id = :sid AND hs.relation = 'HAS_SCENE' AND n.label = 'Entity'
			ORDER BY n.name`,

		"entities_in_universe": `
			SELECT n.id AS id, n.name AS name
			FROM nodes n
			WHERE n.label = 'Entity' AND n.universe_id = :uid
			ORDER BY n.name`,

		"entities_in_arc": `
			SELECT DISTINCT n.id AS id, n.name AS name
			FROM edges hst
			JOIN edges hs ON hs.source_id = hst.target_id AND hs.relation = 'HAS_SCENE'
			JOIN edges ap ON ap.target_id = hs.target_id AND ap.relation = 'APPEARS_IN'
			JOIN nodes n ON n.id = ap.source_id
			WHERE hst.source_id = :aid AND hst.relation = 'HAS_STORY' AND n.label = 'Entity'
			ORDER BY n.name`,

		"entities_in_story_by_role": `
			SELECT DISTINCT n.id AS id, n.name AS name
			FROM edges hs
			JOIN edges oc ON oc.target_id = hs.target_id AND oc.relation = 'OCCURS_IN'
			JOIN edges pa ON pa.target_id = oc.source_id AND pa.relation = 'PARTICIPATES_AS' AND pa.discriminator = :role
			JOIN nodes n ON n.id = pa.source_id
			WHERE hs.source_id = :sid AND hs.relation = 'HAS_SCENE'
			ORDER BY n.name`,

		"entities_in_arc_by_role": `
			SELECT DISTINCT n.id AS id, n.name AS name
			FROM edges hst
			JOIN edges hs ON hs.source_id = hst.target_id AND hs.relation = 'HAS_SCENE'
			JOIN edges oc ON oc.target_id = hs.target_id AND oc.relation = 'OCCURS_IN'
			JOIN edges pa ON pa.target_id = oc.source_id AND pa.relation = 'PARTICIPATES_AS' AND pa.discriminator = :role
			JOIN nodes n ON n.id = pa.source_id
			WHERE hst.source_id = :aid AND hst.relation = 'HAS_STORY'
			ORDER BY n.name`,

		"entities_in_universe_by_role": `
			SELECT DISTINCT n.id AS id, n.name AS name
			FROM edges us
			JOIN edges hs ON hs.source_id = us.target_id AND hs.relation = 'HAS_SCENE'
			JOIN edges oc ON oc.target_id = hs.target_id AND oc.relation = 'OCCURS_IN'
			JOIN edges pa ON pa.target_id = oc.source_id AND pa.relation = 'PARTICIPATES_AS' AND pa.discriminator = :role
			JOIN nodes n ON n.id = pa.source_id
			WHERE us.source_id = :uid AND us.relation = 'HAS_STORY'
			ORDER BY n.name`,

		"entity_by_name_in_universe": `
			SELECT n.id AS id, n.name AS name, n.type AS type
			FROM nodes n
			WHERE n.label = 'Entity' AND n.universe_id = :uid AND LOWER(n.name) = LOWER(:name)
			ORDER BY n.created_at, n.id
			LIMIT 1`,

		// Scenes
		"scenes_for_entity": `
			SELECT s.id AS id,
			       json_extract(s.props, '$.story_id') AS story_id,
			       CAST(json_extract(s.props, '$.sequence_index') AS INTEGER) AS sequence_index,
			       json_extract(s.props, '$.location') AS location
			FROM edges ap
			JOIN nodes s ON s.id = ap.target_id
			WHERE ap.source_id = :eid AND ap.relation = 'APPEARS_IN' AND s.label = 'Scene'
			ORDER BY story_id, sequence_index`,

		"participants_by_role_for_scene": `
			SELECT pa.discriminator AS role, n.id AS entity_id, n.name AS name
			FROM edges oc
			JOIN edges pa ON pa.target_id = oc.source_id AND pa.relation = 'PARTICIPATES_AS'
			JOIN nodes n ON n.id = pa.source_id
			WHERE oc.relation = 'OCCURS_IN' AND oc.target_id = :sid
			GROUP BY pa.discriminator, n.id, n.name
			ORDER BY role, name`,

		"participants_by_role_for_story": `
			SELECT pa.discriminator AS role, n.id AS entity_id, n.name AS name
			FROM edges hs
			JOIN edges oc ON oc.target_id = hs.target_id AND oc.relation = 'OCCURS_IN'
			JOIN edges pa ON pa.target_id = oc.source_id AND pa.relation = 'PARTICIPATES_AS'
			JOIN nodes n ON n.id = pa.source_id
			WHERE hs.source_id = :sid AND hs.relation = 'HAS_SCENE'
			GROUP BY pa.discriminator, n.id, n.name
			ORDER BY role, name`,

		"next_scene_for_entity_in_story": `
			SELECT s.id AS id,
			       CAST(json_extract(s.props, '$.sequence_index') AS INTEGER) AS sequence_index
			FROM edges hs
			JOIN nodes s ON s.id = hs.target_id
			JOIN edges ap ON ap.target_id = s.id AND ap.relation = 'APPEARS_IN' AND ap.source_id = :eid
			WHERE hs.source_id = :sid AND hs.relation = 'HAS_SCENE'
			  AND CAST(json_extract(s.props, '$.sequence_index') AS INTEGER) > :idx
			ORDER BY sequence_index ASC
			LIMIT 1`,

		"previous_scene_for_entity_in_story": `
			SELECT s.id AS id,
			       CAST(json_extract(s.props, '$.sequence_index') AS INTEGER) AS sequence_index
			FROM edges hs
			JOIN nodes s ON s.id = hs.target_id
			JOIN edges ap ON ap.target_id = s.id AND ap.relation = 'APPEARS_IN' AND ap.source_id = :eid
			WHERE hs.source_id = :sid AND hs.relation = 'HAS_SCENE'
			  AND CAST(json_extract(s.props, '$.sequence_index') AS INTEGER) < :idx
			ORDER BY sequence_index DESC
			LIMIT 1`,

		"stories_in_universe": `
			SELECT st.id AS id, st.name AS title, hs.seq AS sequence_index
			FROM edges hs
			JOIN nodes st ON st.id = hs.target_id
			WHERE hs.source_id = :uid AND hs.relation = 'HAS_STORY'
			ORDER BY hs.seq, st.id`,

		"scenes_in_story": `
			SELECT s.id AS id, hs.seq AS sequence_index,
			       json_extract(s.props, '$.location') AS location,
			       json_extract(s.props, '$.when') AS "when"
			FROM edges hs
			JOIN nodes s ON s.id = hs.target_id
			WHERE hs.source_id = :sid AND hs.relation = 'HAS_SCENE'
			ORDER BY hs.seq, s.id`,

		// Facts
		"facts_for_scene": `
			SELECT f.id AS id,
			       json_extract(f.props, '$.description') AS description,
			       (SELECT json_group_array(json_object('entity_id', pa.source_id, 'role', pa.discriminator))
			        FROM edges pa
			        WHERE pa.relation = 'PARTICIPATES_AS' AND pa.target_id = f.id) AS participants
			FROM edges oc
			JOIN nodes f ON f.id = oc.source_id
			WHERE oc.relation = 'OCCURS_IN' AND oc.target_id = :sid AND f.label = 'Fact'
			ORDER BY f.id`,

		"facts_for_story": `
			SELECT f.id AS id,
			       json_extract(f.props, '$.description') AS description,
			       (SELECT json_group_array(json_object('entity_id', pa.source_id, 'role', pa.discriminator))
			        FROM edges pa
			        WHERE pa.relation = 'PARTICIPATES_AS' AND pa.target_id = f.id) AS participants
			FROM edges hs
			JOIN edges oc ON oc.target_id = hs.target_id AND oc.relation = 'OCCURS_IN'
			JOIN nodes f ON f.id = oc.source_id
			WHERE hs.source_id = :sid AND hs.relation = 'HAS_SCENE' AND f.label = 'Fact'
			ORDER BY f.id`,

		// Relations
		"relation_state_history": `
			SELECT rs.id AS id, rs.type AS type,
			       json_extract(rs.props, '$.started_at') AS started_at,
			       json_extract(rs.props, '$.ended_at') AS ended_at,
			       (SELECT target_id FROM edges WHERE source_id = rs.id AND relation = 'SET_IN_SCENE' LIMIT 1) AS set_in_scene,
			       (SELECT target_id FROM edges WHERE source_id = rs.id AND relation = 'CHANGED_IN_SCENE' LIMIT 1) AS changed_in_scene,
			       (SELECT target_id FROM edges WHERE source_id = rs.id AND relation = 'ENDED_IN_SCENE' LIMIT 1) AS ended_in_scene
			FROM nodes rs
			JOIN edges ea ON ea.source_id = rs.id AND ea.relation = 'REL_STATE_FOR' AND ea.discriminator = 'A' AND ea.target_id = :a
			JOIN edges eb ON eb.source_id = rs.id AND eb.relation = 'REL_STATE_FOR' AND eb.discriminator = 'B' AND eb.target_id = :b
			WHERE rs.label = 'RelationState'
			ORDER BY started_at`,

		"relations_effective_in_scene": `
			WITH cur AS (
			    SELECT s.id AS scene_id,
			           hs.source_id AS story_id,
			           CAST(json_extract(s.props, '$.sequence_index') AS INTEGER) AS seq
			    FROM nodes s
			    LEFT JOIN edges hs ON hs.target_id = s.id AND hs.relation = 'HAS_SCENE'
			    WHERE s.id = :sid
			),
			prov AS (
			    SELECT rs.id AS rsid, rs.type AS rtype,
			           (SELECT target_id FROM edges WHERE source_id = rs.id AND relation = 'SET_IN_SCENE' LIMIT 1) AS set_scene,
			           (SELECT target_id FROM edges WHERE source_id = rs.id AND relation = 'CHANGED_IN_SCENE' LIMIT 1) AS chg_scene,
			           (SELECT target_id FROM edges WHERE source_id = rs.id AND relation = 'ENDED_IN_SCENE' LIMIT 1) AS end_scene
			    FROM nodes rs
			    WHERE rs.label = 'RelationState'
			)
			SELECT p.rsid AS id, p.rtype AS type, ea.target_id AS entity_a, eb.target_id AS entity_b
			FROM prov p
			CROSS JOIN cur c
			JOIN edges ea ON ea.source_id = p.rsid AND ea.relation = 'REL_STATE_FOR' AND ea.discriminator = 'A'
			JOIN edges eb ON eb.source_id = p.rsid AND eb.relation = 'REL_STATE_FOR' AND eb.discriminator = 'B'
			LEFT JOIN nodes ss ON ss.id = p.set_scene
			LEFT JOIN edges sss ON sss.target_id = p.set_scene AND sss.relation = 'HAS_SCENE'
			LEFT JOIN nodes es ON es.id = p.end_scene
			LEFT JOIN edges ess ON ess.target_id = p.end_scene AND ess.relation = 'HAS_SCENE'
			WHERE (
			    coalesce(p.set_scene = c.scene_id, 0)
			    OR coalesce(p.chg_scene = c.scene_id, 0)
			    OR coalesce(sss.source_id = c.story_id
			        AND CAST(json_extract(ss.props, '$.sequence_index') AS INTEGER) <= c.seq, 0)
			)
			AND NOT (
			    coalesce(p.end_scene = c.scene_id, 0)
			    OR coalesce(ess.source_id = c.story_id
			        AND CAST(json_extract(es.props, '$.sequence_index') AS INTEGER) <= c.seq, 0)
			)
			ORDER BY id`,

		"relation_is_active_in_scene": `
			WITH cur AS (
			    SELECT s.id AS scene_id,
			           hs.source_id AS story_id,
			           CAST(json_extract(s.props, '$.sequence_index') AS INTEGER) AS seq
			    FROM nodes s
			    LEFT JOIN edges hs ON hs.target_id = s.id AND hs.relation = 'HAS_SCENE'
			    WHERE s.id = :sid
			),
			prov AS (
			    SELECT rs.id AS rsid,
			           (SELECT target_id FROM edges WHERE source_id = rs.id AND relation = 'SET_IN_SCENE' LIMIT 1) AS set_scene,
			           (SELECT target_id FROM edges WHERE source_id = rs.id AND relation = 'CHANGED_IN_SCENE' LIMIT 1) AS chg_scene,
			           (SELECT target_id FROM edges WHERE source_id = rs.id AND relation = 'ENDED_IN_SCENE' LIMIT 1) AS end_scene
			    FROM nodes rs
			    WHERE rs.label = 'RelationState'
			)
			SELECT count(*) > 0 AS active
			FROM prov p
			CROSS JOIN cur c
			JOIN edges ea ON ea.source_id = p.rsid AND ea.relation = 'REL_STATE_FOR' AND ea.discriminator = 'A' AND ea.target_id = :a
			JOIN edges eb ON eb.source_id = p.rsid AND eb.relation = 'REL_STATE_FOR' AND eb.discriminator = 'B' AND eb.target_id = :b
			LEFT JOIN nodes ss ON ss.id = p.set_scene
			LEFT JOIN edges sss ON sss.target_id = p.set_scene AND sss.relation = 'HAS_SCENE'
			LEFT JOIN nodes es ON es.id = p.end_scene
			LEFT JOIN edges ess ON ess.target_id = p.end_scene AND ess.relation = 'HAS_SCENE'
			WHERE (
			    coalesce(p.set_scene = c.scene_id, 0)
			    OR coalesce(p.chg_scene = c.scene_id, 0)
			    OR coalesce(sss.source_id = c.story_id
			        AND CAST(json_extract(ss.props, '$.sequence_index') AS INTEGER) <= c.seq, 0)
			)
			AND NOT (
			    coalesce(p.end_scene = c.scene_id, 0)
			    OR coalesce(ess.source_id = c.story_id
			        AND CAST(json_extract(es.props, '$.sequence_index') AS INTEGER) <= c.seq, 0)
			)`,

		"relation_is_active": `
			SELECT count(*) > 0 AS active
			FROM nodes rs
			JOIN edges ea ON ea.source_id = rs.id AND ea.relation = 'REL_STATE_FOR' AND ea.discriminator = 'A' AND ea.target_id = :a
			JOIN edges eb ON eb.source_id = rs.id AND eb.relation = 'REL_STATE_FOR' AND eb.discriminator = 'B' AND eb.target_id = :b
			WHERE rs.label = 'RelationState' AND rs.type = :rtype
			  AND json_extract(rs.props, '$.ended_at') IS NULL
			  AND NOT EXISTS (SELECT 1 FROM edges WHERE source_id = rs.id AND relation = 'ENDED_IN_SCENE')`,

		// Catalog
		"list_multiverses": `
			SELECT n.id AS id, n.name AS name
			FROM nodes n
			WHERE n.label = 'Multiverse'
			ORDER BY n.name, n.id`,

		"list_universes": `
			SELECT n.id AS id, n.name AS name
			FROM nodes n
			WHERE n.label = 'Universe'
			ORDER BY n.name, n.id`,

		"list_universes_for_multiverse": `
			SELECT n.id AS id, n.name AS name
			FROM edges hu
			JOIN nodes n ON n.id = hu.target_id
			WHERE hu.source_id = :mid AND hu.relation = 'HAS_UNIVERSE'
			ORDER BY n.name, n.id`,

		// Systems
		"system_usage_summary": `
			WITH usage(system_id, kind, c) AS (
			    SELECT target_id, 'universe', count(*)
			    FROM edges WHERE source_id = :uid AND relation = 'USES_SYSTEM'
			    GROUP BY target_id
			    UNION ALL
			    SELECT us.target_id, 'story', count(*)
			    FROM edges hs
			    JOIN edges us ON us.source_id = hs.target_id AND us.relation = 'USES_SYSTEM'
			    WHERE hs.source_id = :uid AND hs.relation = 'HAS_STORY'
			    GROUP BY us.target_id
			    UNION ALL
			    SELECT us.target_id, 'entity', count(*)
			    FROM nodes e
			    JOIN edges us ON us.source_id = e.id AND us.relation = 'USES_SYSTEM'
			    WHERE e.label = 'Entity' AND e.universe_id = :uid
			    GROUP BY us.target_id
			)
			SELECT system_id,
			       sum(CASE WHEN kind = 'universe' THEN c ELSE 0 END) AS universe_count,
			       sum(CASE WHEN kind = 'story' THEN c ELSE 0 END) AS story_count,
			       sum(CASE WHEN kind = 'entity' THEN c ELSE 0 END) AS entity_count
			FROM usage
			GROUP BY system_id
			ORDER BY system_id`,

		"effective_system_for_universe": `
			WITH mv AS (
			    SELECT source_id AS id FROM edges
			    WHERE relation = 'HAS_UNIVERSE' AND target_id = :uid LIMIT 1
			),
			pick(system_id, source, pri) AS (
			    SELECT target_id, 'universe', 0 FROM edges WHERE source_id = :uid AND relation = 'USES_SYSTEM'
			    UNION ALL
			    SELECT target_id, 'multiverse', 1 FROM edges WHERE source_id = (SELECT id FROM mv) AND relation = 'USES_SYSTEM'
			)
			SELECT system_id, source FROM pick ORDER BY pri LIMIT 1`,

		"effective_system_for_story": `
			WITH u AS (
			    SELECT e.source_id AS id FROM edges e
			    JOIN nodes n ON n.id = e.source_id
			    WHERE e.relation = 'HAS_STORY' AND e.target_id = :sid AND n.label = 'Universe'
			    LIMIT 1
			),
			mv AS (
			    SELECT source_id AS id FROM edges
			    WHERE relation = 'HAS_UNIVERSE' AND target_id = (SELECT id FROM u) LIMIT 1
			),
			pick(system_id, source, pri) AS (
			    SELECT target_id, 'story', 0 FROM edges WHERE source_id = :sid AND relation = 'USES_SYSTEM'
			    UNION ALL
			    SELECT target_id, 'universe', 1 FROM edges WHERE source_id = (SELECT id FROM u) AND relation = 'USES_SYSTEM'
			    UNION ALL
			    SELECT target_id, 'multiverse', 2 FROM edges WHERE source_id = (SELECT id FROM mv) AND relation = 'USES_SYSTEM'
			)
			SELECT system_id, source FROM pick ORDER BY pri LIMIT 1`,

		"effective_system_for_scene": `
			WITH st AS (
			    SELECT source_id AS id FROM edges
			    WHERE relation = 'HAS_SCENE' AND target_id = :sid LIMIT 1
			),
			u AS (
			    SELECT e.source_id AS id FROM edges e
			    JOIN nodes n ON n.id = e.source_id
			    WHERE e.relation = 'HAS_STORY' AND e.target_id = (SELECT id FROM st) AND n.label = 'Universe'
			    LIMIT 1
			),
			mv AS (
			    SELECT source_id AS id FROM edges
			    WHERE relation = 'HAS_UNIVERSE' AND target_id = (SELECT id FROM u) LIMIT 1
			),
			pick(system_id, source, pri) AS (
			    SELECT target_id, 'story', 0 FROM edges WHERE source_id = (SELECT id FROM st) AND relation = 'USES_SYSTEM'
			    UNION ALL
			    SELECT target_id, 'universe', 1 FROM edges WHERE source_id = (SELECT id FROM u) AND relation = 'USES_SYSTEM'
			    UNION ALL
			    SELECT target_id, 'multiverse', 2 FROM edges WHERE source_id = (SELECT id FROM mv) AND relation = 'USES_SYSTEM'
			)
			SELECT system_id, source FROM pick ORDER BY pri LIMIT 1`,

		"effective_system_for_entity": `
			WITH u AS (
			    SELECT universe_id AS id FROM nodes WHERE id = :eid
			),
			mv AS (
			    SELECT source_id AS id FROM edges
			    WHERE relation = 'HAS_UNIVERSE' AND target_id = (SELECT id FROM u) LIMIT 1
			),
			pick(system_id, source, pri) AS (
			    SELECT target_id, 'entity', 0 FROM edges WHERE source_id = :eid AND relation = 'USES_SYSTEM'
			    UNION ALL
			    SELECT target_id, 'universe', 1 FROM edges WHERE source_id = (SELECT id FROM u) AND relation = 'USES_SYSTEM'
			    UNION ALL
			    SELECT target_id, 'multiverse', 2 FROM edges WHERE source_id = (SELECT id FROM mv) AND relation = 'USES_SYSTEM'
			)
			SELECT system_id, source FROM pick ORDER BY pri LIMIT 1`,

		"effective_system_for_entity_in_story": `
			WITH u AS (
			    SELECT universe_id AS id FROM nodes WHERE id = :eid
			),
			mv AS (
			    SELECT source_id AS id FROM edges
			    WHERE relation = 'HAS_UNIVERSE' AND target_id = (SELECT id FROM u) LIMIT 1
			),
			pick(system_id, source, pri) AS (
			    SELECT target_id, 'entity', 0 FROM edges WHERE source_id = :eid AND relation = 'USES_SYSTEM'
			    UNION ALL
			    SELECT target_id, 'story', 1 FROM edges WHERE source_id = :sid AND relation = 'USES_SYSTEM'
			    UNION ALL
			    SELECT target_id, 'universe', 2 FROM edges WHERE source_id = (SELECT id FROM u) AND relation = 'USES_SYSTEM'
			    UNION ALL
			    SELECT target_id, 'multiverse', 3 FROM edges WHERE source_id = (SELECT id FROM mv) AND relation = 'USES_SYSTEM'
			)
			SELECT system_id, source FROM pick ORDER BY pri LIMIT 1`,

		// Axioms
		"axioms_applying_to_universe": `
			SELECT a.id AS id, a.type AS type,
			       json_extract(a.props, '$.semantics') AS semantics,
			       (SELECT target_id FROM edges WHERE source_id = a.id AND relation = 'REFERS_TO' LIMIT 1) AS refers_to_archetype
			FROM edges ap
			JOIN nodes a ON a.id = ap.source_id
			WHERE ap.relation = 'APPLIES_TO' AND ap.target_id = :uid AND a.label = 'Axiom'
			ORDER BY a.id`,

		"axioms_effective_in_scene": `
			WITH st AS (
			    SELECT source_id AS id FROM edges
			    WHERE relation = 'HAS_SCENE' AND target_id = :sid LIMIT 1
			),
			u AS (
			    SELECT e.source_id AS id FROM edges e
			    JOIN nodes n ON n.id = e.source_id
			    WHERE e.relation = 'HAS_STORY' AND e.target_id = (SELECT id FROM st) AND n.label = 'Universe'
			    LIMIT 1
			)
			SELECT a.id AS id, a.type AS type,
			       json_extract(a.props, '$.semantics') AS semantics,
			       (SELECT target_id FROM edges WHERE source_id = a.id AND relation = 'REFERS_TO' LIMIT 1) AS refers_to_archetype
			FROM edges ap
			JOIN nodes a ON a.id = ap.source_id
			WHERE ap.relation = 'APPLIES_TO' AND ap.target_id = (SELECT id FROM u) AND a.label = 'Axiom'
			ORDER BY a.id`,
	}
}
