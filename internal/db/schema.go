package db

import "fmt"

const (
	itemTable  = "content_item"
	chunkTable = "chunk"
)

func schemaSQL(dimension int) string {
	return fmt.Sprintf(`
    -- content items
    DEFINE TABLE IF NOT EXISTS content_item SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS tenant ON content_item TYPE string;
    DEFINE FIELD IF NOT EXISTS source ON content_item TYPE string;
    DEFINE FIELD IF NOT EXISTS kind ON content_item TYPE string;
    DEFINE FIELD IF NOT EXISTS is_parent ON content_item TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS is_file ON content_item TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS parent ON content_item TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS children ON content_item TYPE array<string> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS urls ON content_item TYPE array<string> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS structured ON content_item TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS table_name ON content_item TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS file_type ON content_item TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS length ON content_item TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS context_string ON content_item TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS progress ON content_item TYPE int DEFAULT 0 ASSERT $value >= -1 AND $value <= 100;
    DEFINE FIELD IF NOT EXISTS summary ON content_item TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS allow_map ON content_item TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS map_created ON content_item TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS map_artifact ON content_item TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS uploaded_at ON content_item TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON content_item TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS content_item_tenant ON content_item FIELDS tenant;
    DEFINE INDEX IF NOT EXISTS content_item_source ON content_item FIELDS tenant, source;
    DEFINE INDEX IF NOT EXISTS content_item_parent ON content_item FIELDS parent;

    -- vector chunks, one row per embedded unit
    DEFINE TABLE IF NOT EXISTS chunk SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS tenant ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS item ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS content ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS position ON chunk TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS metadata ON chunk TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS embedding ON chunk TYPE array<float>;
    DEFINE FIELD IF NOT EXISTS created ON chunk TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS chunk_tenant_item ON chunk FIELDS tenant, item;
    DEFINE INDEX IF NOT EXISTS chunk_embedding ON chunk FIELDS embedding HNSW DIMENSION %d DIST COSINE TYPE F32;
`, dimension)
}
