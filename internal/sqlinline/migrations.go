package sqlinline

const QMigrationsTable = `--sql 63639c4c-3ee0-4183-83c2-1070b417237f
create table if not exists schema_migrations (
    version    text primary key,
    applied_at timestamptz not null default now()
);
`

const QMigrationApplied = `--sql 238b4410-b25e-4ac8-b867-ba94b8950440
select exists (select 1 from schema_migrations where version = $1);
`

const QMigrationRecord = `--sql 199fe114-4f5f-41f2-82f3-0fc29ef9f091
insert into schema_migrations (version)
values ($1);
`
