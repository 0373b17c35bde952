package rootmap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/wkalt/spatialcache/nodestore"
	"github.com/wkalt/spatialcache/region"
)

type sqlRootmap struct {
	db *sql.DB
}

// NewSQLRootmap returns a rootmap stored in db, creating its table if
// necessary. The queries are written for sqlite.
func NewSQLRootmap(db *sql.DB) (Rootmap, error) {
	rm := &sqlRootmap{
		db: db,
	}
	err := rm.initialize()
	if err != nil {
		return nil, err
	}
	return rm, nil
}

func (rm *sqlRootmap) initialize() error {
	var maxApplied int64
	err := rm.db.QueryRow("select max(version) from schema_migrations").Scan(&maxApplied)
	if err == nil && maxApplied == 1 {
		return nil
	}
	if _, err := rm.db.Exec(`
	create table if not exists rootmap (
		name text primary key,
		root_id bigint not null,
		next_node bigint not null,
		next_data bigint not null,
		dims integer not null,
		fanout integer not null,
		properties text not null,
		coverage text not null,
		updated_at text not null default current_timestamp
	);

	create table if not exists schema_migrations(
		version bigint not null,
		timestamp text not null default current_timestamp
	);

	insert into schema_migrations(version) values (1);
	`); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func (rm *sqlRootmap) Put(ctx context.Context, entry Entry) error {
	properties, err := entry.Properties.Marshal()
	if err != nil {
		return err
	}
	coverage := entry.Coverage
	if coverage == nil {
		coverage = []region.Region{}
	}
	encodedCoverage, err := json.Marshal(coverage)
	if err != nil {
		return fmt.Errorf("failed to encode coverage: %w", err)
	}
	h := entry.Header
	_, err = rm.db.ExecContext(ctx, `
	insert into rootmap (name, root_id, next_node, next_data, dims, fanout, properties, coverage)
	values ($1, $2, $3, $4, $5, $6, $7, $8)
	on conflict (name) do update set
		root_id = excluded.root_id,
		next_node = excluded.next_node,
		next_data = excluded.next_data,
		dims = excluded.dims,
		fanout = excluded.fanout,
		properties = excluded.properties,
		coverage = excluded.coverage,
		updated_at = current_timestamp`,
		entry.Name, h.Root, int64(h.NextNode), int64(h.NextData), h.Dims, h.Fanout,
		string(properties), string(encodedCoverage),
	)
	if err != nil {
		return fmt.Errorf("failed to store to rootmap: %w", err)
	}
	return nil
}

func (rm *sqlRootmap) Get(ctx context.Context, name string) (Entry, error) {
	var (
		root                nodestore.NodeID
		nextNode, nextData  int64
		properties, covered string
		entry               = Entry{Name: name}
	)
	err := rm.db.QueryRowContext(ctx, `
	select root_id, next_node, next_data, dims, fanout, properties, coverage, updated_at
	from rootmap where name = $1`,
		name,
	).Scan(
		&root, &nextNode, &nextData, &entry.Header.Dims, &entry.Header.Fanout,
		&properties, &covered, &entry.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, EntryNotFoundError{name}
		}
		return Entry{}, fmt.Errorf("failed to read from rootmap: %w", err)
	}
	entry.Header.Root = root
	entry.Header.NextNode = uint64(nextNode)
	entry.Header.NextData = uint64(nextData)
	entry.Properties, err = nodestore.ParsePropertySet([]byte(properties))
	if err != nil {
		return Entry{}, err
	}
	if err := json.Unmarshal([]byte(covered), &entry.Coverage); err != nil {
		return Entry{}, fmt.Errorf("failed to decode coverage: %w", err)
	}
	return entry, nil
}

func (rm *sqlRootmap) Delete(ctx context.Context, name string) error {
	if _, err := rm.db.ExecContext(ctx, `delete from rootmap where name = $1`, name); err != nil {
		return fmt.Errorf("failed to delete from rootmap: %w", err)
	}
	return nil
}

func (rm *sqlRootmap) List(ctx context.Context) ([]string, error) {
	rows, err := rm.db.QueryContext(ctx, `select name from rootmap order by name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rootmap: %w", err)
	}
	defer rows.Close()
	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan rootmap row: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list rootmap: %w", err)
	}
	return names, nil
}
