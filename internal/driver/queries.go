package driver

// Party, turn and memory are stored as JSON strings on the Adventure node.
// Events hang off it in append order.

var IndexQueries = []string{
	"CREATE CONSTRAINT ON (a:Adventure) ASSERT a.id IS UNIQUE;",
	"CREATE INDEX ON :Event(adventure_id);",
	"CREATE INDEX ON :Event(seq);",
	"CREATE INDEX ON :Section(adventure_id);",
}

const (
	CreateAdventureQuery = `
		CREATE (a:Adventure {
			id: $id,
			campaign: $campaign,
			created_at: $created_at,
			party: $party,
			turn: $turn,
			memory: $memory,
			event_count: 0
		})
		RETURN a.id AS id
	`

	ListAdventuresQuery = `
		MATCH (a:Adventure)
		RETURN a.id AS id, a.campaign AS campaign, a.created_at AS created_at
		ORDER BY created_at, id
	`

	LoadAdventureQuery = `
		MATCH (a:Adventure {id: $id})
		RETURN a.party AS party, a.turn AS turn, a.memory AS memory
	`

	SaveAdventureQuery = `
		MATCH (a:Adventure {id: $id})
		SET a += $props
		RETURN a.id AS id
	`

	CommitResolutionQuery = `
		MATCH (a:Adventure {id: $id})
		SET a.party = $party,
			a.turn = $turn,
			a.event_count = coalesce(a.event_count, 0) + 1
		CREATE (e:Event {id: $event_id, adventure_id: $id, seq: a.event_count, body: $body})
		CREATE (a)-[:HAS_EVENT]->(e)
		RETURN e.seq AS seq
	`

	RecentEventsQuery = `
		MATCH (a:Adventure {id: $id})-[:HAS_EVENT]->(e:Event)
		RETURN e.body AS body, e.seq AS seq
		ORDER BY e.seq DESC
		LIMIT $limit
	`

	ReplaceSectionsQuery = `
		MATCH (a:Adventure {id: $id})
		OPTIONAL MATCH (a)-[:HAS_SECTION]->(old:Section)
		DETACH DELETE old
		WITH DISTINCT a
		UNWIND $sections AS s
		CREATE (a)-[:HAS_SECTION]->(:Section {
			adventure_id: a.id,
			position: s.position,
			title: s.title,
			content: s.content
		})
		RETURN count(*) AS saved
	`

	CampaignSectionsQuery = `
		MATCH (a:Adventure {id: $id})-[:HAS_SECTION]->(s:Section)
		RETURN s.title AS title, s.content AS content
		ORDER BY s.position
	`
)
