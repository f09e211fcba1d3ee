package sqlinline

const jobColumns = `id::text, type, status, owner_id, coalesce(story_id::text, ''), coalesce(storyboard_id::text, ''),
    payload, snapshot, coalesce(error_message, ''), progress_version, created_at, updated_at, started_at, finished_at`

const QInsertJob = `--sql 9a1c607d-c5a1-415b-9fed-5736a4af8faa
insert into jobs (id, type, status, owner_id, story_id, storyboard_id, payload, snapshot, progress_version, created_at, updated_at)
values ($1::uuid, $2::text, $3::text, $4::text, nullif($5::text, '')::uuid, nullif($6::text, '')::uuid, $7::jsonb, $8::jsonb, 0, $9, $9)
on conflict (id) do nothing;
`

const QSelectJobByID = `--sql 096bbddb-d715-4d71-b760-51da6277f0b4
select ` + jobColumns + `
from jobs
where id = $1::uuid;
`

// QUpdateJob refuses to touch terminal rows and to move a status backwards:
// queued -> running -> done|error.
const QUpdateJob = `--sql d2f39af0-b95a-4bd5-bc5f-0fb041297b4d
update jobs
set status = coalesce($2::text, status),
    snapshot = coalesce($3::jsonb, snapshot),
    error_message = coalesce($4::text, error_message),
    finished_at = case when $5::bool then now() else finished_at end,
    updated_at = now(),
    progress_version = progress_version + 1
where id = $1::uuid
  and status not in ('done', 'error')
  and ($2::text is null
       or $2::text = status
       or (status = 'queued' and $2::text = 'running')
       or (status = 'running' and $2::text in ('done', 'error')));
`

const QSelectJobStatus = `--sql c8dd56e8-c467-4abd-9db7-da56691995ad
select status
from jobs
where id = $1::uuid;
`

const QClaimNextJob = `--sql bebbc383-b022-44d2-bc54-c501fc1193d2
with next_job as (
    select id
    from jobs
    where type = $1::text
      and status = 'queued'
    order by created_at asc
    for update skip locked
    limit 1
),
updated as (
    update jobs
    set status = 'running',
        started_at = now(),
        updated_at = now(),
        progress_version = progress_version + 1,
        snapshot = jsonb_set(jsonb_set(snapshot, '{status}', to_jsonb('running'::text), true), '{stage}', to_jsonb('running'::text), true)
    where id in (select id from next_job)
    returning ` + jobColumns + `
)
select * from updated;
`

const QListActiveJobs = `--sql 4a0a4edf-98c8-4e28-8bb2-8d3384397a5c
select ` + jobColumns + `
from jobs
where status in ('queued', 'running')
  and ($1::text = '' or story_id = nullif($1::text, '')::uuid)
  and ($2::text = '' or storyboard_id = nullif($2::text, '')::uuid)
order by created_at asc
limit 100;
`
