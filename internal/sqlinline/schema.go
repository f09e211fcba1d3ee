package sqlinline

// QEnsureSchema is executed without arguments so pgx sends it over the simple
// protocol, which allows several statements in one round trip.
const QEnsureSchema = `--sql 0050753a-ded1-4b0f-9999-b884736934af
create table if not exists jobs (
    id uuid primary key,
    type text not null,
    status text not null check (status in ('queued', 'running', 'done', 'error')),
    owner_id text not null,
    story_id uuid,
    storyboard_id uuid,
    payload jsonb not null,
    snapshot jsonb not null,
    error_message text,
    progress_version bigint not null default 0,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now(),
    started_at timestamptz,
    finished_at timestamptz
);
create index if not exists jobs_claim_idx on jobs (type, created_at) where status = 'queued';
create index if not exists jobs_story_active_idx on jobs (story_id) where status in ('queued', 'running');
create index if not exists jobs_storyboard_active_idx on jobs (storyboard_id) where status in ('queued', 'running');

create table if not exists stories (
    id uuid primary key,
    owner_id text not null,
    title text,
    story_type text,
    resolution text,
    aspect_ratio text,
    story_text text,
    generated_text text,
    shot_style text,
    status text,
    progress_stage text,
    metadata jsonb not null default '{}'::jsonb,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);

create table if not exists story_outlines (
    id uuid primary key,
    story_id uuid not null references stories (id) on delete cascade,
    sequence int not null,
    outline_text text not null default '',
    original_text text not null default '',
    created_at timestamptz not null default now()
);

create table if not exists storyboards (
    id uuid primary key,
    outline_id uuid not null references story_outlines (id) on delete cascade,
    sequence int not null,
    scene_title text,
    original_text text,
    shot_cut boolean not null default false,
    storyboard_text text,
    video_info jsonb,
    is_video_generated boolean not null default false,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);

create table if not exists generated_images (
    id uuid primary key,
    story_id uuid not null references stories (id) on delete cascade,
    storyboard_id uuid,
    name text not null,
    category text not null,
    description text,
    prompt text,
    url text,
    storage_key text,
    thumbnail_url text,
    thumbnail_storage_key text,
    created_at timestamptz not null default now()
);

alter table generated_images
    add column if not exists thumbnail_url text,
    add column if not exists thumbnail_storage_key text;

create table if not exists integration_tokens (
    id uuid primary key,
    provider text not null unique,
    token text not null,
    properties jsonb not null default '{}'::jsonb,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
`
