package sqlinline

const storyColumns = `id::text, owner_id, coalesce(title, ''), coalesce(story_type, ''), coalesce(resolution, ''), coalesce(aspect_ratio, ''),
    coalesce(story_text, ''), coalesce(generated_text, ''), coalesce(shot_style, ''), coalesce(status, ''), coalesce(progress_stage, ''),
    coalesce(metadata, '{}'::jsonb), created_at, updated_at`

const QSelectStory = `--sql eef43997-7b53-40f1-833a-7361859254e0
select ` + storyColumns + `
from stories
where id = $1::uuid;
`

const QInsertStory = `--sql 1d96ad33-277a-4f3f-9b96-13f3b799b149
insert into stories (id, owner_id, title, story_type, resolution, aspect_ratio, story_text, generated_text, shot_style, status, metadata, created_at, updated_at)
values (gen_random_uuid(), $1::text, nullif($2::text, ''), $3::text, $4::text, $5::text, $6::text, nullif($7::text, ''), $8::text, 'draft', '{}'::jsonb, now(), now())
returning id::text, created_at, updated_at;
`

const QUpdateStoryInputs = `--sql 97f19b0e-42cb-41db-b5e9-edee16385116
update stories
set title = coalesce(nullif($2::text, ''), title),
    story_type = $3::text,
    resolution = $4::text,
    aspect_ratio = $5::text,
    story_text = $6::text,
    generated_text = coalesce(nullif($7::text, ''), generated_text),
    shot_style = $8::text,
    updated_at = now()
where id = $1::uuid;
`

const QUpdateStoryStatus = `--sql 910d4ed4-8124-4eda-90c8-c6d9fa8561b3
update stories
set status = $2::text,
    progress_stage = $3::text,
    metadata = jsonb_set(
        coalesce(metadata, '{}'::jsonb),
        '{progress}',
        coalesce(metadata->'progress', '{}'::jsonb) || coalesce($4::jsonb, '{}'::jsonb),
        true
    ),
    updated_at = now()
where id = $1::uuid;
`

const QUpdateStoryMetadata = `--sql 74fbd1d1-3e43-4129-aa17-7f519036aabe
update stories
set metadata = $2::jsonb,
    updated_at = now()
where id = $1::uuid;
`

const QListOutlines = `--sql 65832a37-20f7-42bf-9f6a-24c5e0dd5c55
select id::text, story_id::text, sequence, outline_text, original_text
from story_outlines
where story_id = $1::uuid
order by sequence asc, created_at asc;
`

const QSelectOutline = `--sql e7316c76-132a-48b2-af23-104392e9a391
select id::text, story_id::text, sequence, outline_text, original_text
from story_outlines
where id = $1::uuid;
`

// QReplaceOutlines deletes and re-inserts in one statement so readers never
// observe a half-replaced list.
const QReplaceOutlines = `--sql 5758bcd0-dc37-4dc7-a87d-2b45006401f5
with deleted as (
    delete from story_outlines
    where story_id = $1::uuid
)
insert into story_outlines (id, story_id, sequence, outline_text, original_text, created_at)
select gen_random_uuid(), $1::uuid, x.sequence, x.outline_text, x.original_text, now()
from unnest($2::int[], $3::text[], $4::text[]) as x(sequence, outline_text, original_text);
`

const QReplaceStoryboards = `--sql 11d28a55-9516-4577-bcdf-dfd8885df18f
with deleted as (
    delete from storyboards
    where outline_id = $1::uuid
)
insert into storyboards (id, outline_id, sequence, scene_title, original_text, shot_cut, storyboard_text, created_at, updated_at)
select gen_random_uuid(), $1::uuid, x.sequence, x.scene_title, x.original_text, x.shot_cut, x.storyboard_text, now(), now()
from unnest($2::int[], $3::text[], $4::text[], $5::bool[], $6::text[]) as x(sequence, scene_title, original_text, shot_cut, storyboard_text);
`

const QStoryboardProgress = `--sql 0e10d0f0-cafb-459d-a4a9-2c8deb764b39
select
    (select count(*) from story_outlines o where o.story_id = $1::uuid),
    (select count(distinct sb.outline_id) from storyboards sb join story_outlines o on o.id = sb.outline_id where o.story_id = $1::uuid),
    (select count(*) from storyboards sb join story_outlines o on o.id = sb.outline_id where o.story_id = $1::uuid);
`

const QSelectStoryboard = `--sql fc6fffd4-c15a-45ae-8508-966ae3c95492
select id::text, outline_id::text, sequence, coalesce(scene_title, ''), coalesce(original_text, ''), shot_cut,
    coalesce(storyboard_text, ''), video_info
from storyboards
where id = $1::uuid;
`

const QUpdateStoryboardVideo = `--sql bc85ca0b-54aa-48e1-a3ea-63abe363cd23
update storyboards
set is_video_generated = true,
    video_info = $2::jsonb,
    updated_at = now()
where id = $1::uuid;
`

const generatedImageColumns = `id::text, story_id::text, coalesce(storyboard_id::text, ''), name, category, coalesce(description, ''),
    coalesce(prompt, ''), coalesce(url, ''), coalesce(storage_key, ''), coalesce(thumbnail_url, ''), coalesce(thumbnail_storage_key, ''), created_at`

const QSelectGeneratedImageByID = `--sql 2550f0c5-d25e-4081-b4c4-d3f21eb11a33
select ` + generatedImageColumns + `
from generated_images
where id = $1::uuid
  and story_id = $2::uuid;
`

const QSelectLatestGeneratedImage = `--sql afad1c9b-a66d-4d00-aefb-385b3d2bb7e8
select ` + generatedImageColumns + `
from generated_images
where story_id = $1::uuid
  and storyboard_id is not distinct from nullif($2::text, '')::uuid
  and name = $3::text
  and category = $4::text
order by created_at desc
limit 1;
`

const QInsertGeneratedImage = `--sql 8983bb09-6f0a-44a9-9914-d7154d503c4c
insert into generated_images (id, story_id, storyboard_id, name, category, description, prompt, url, storage_key,
    thumbnail_url, thumbnail_storage_key, created_at)
values (gen_random_uuid(), $1::uuid, nullif($2::text, '')::uuid, $3::text, $4::text, $5::text, $6::text, $7::text, $8::text,
    nullif($9::text, ''), nullif($10::text, ''), now())
returning id::text, created_at;
`

const QUpdateGeneratedImage = `--sql c1d18134-65ff-4304-92d6-2f0121a6b4ec
update generated_images
set name = $2::text,
    category = $3::text,
    description = $4::text,
    prompt = $5::text,
    url = $6::text,
    storage_key = $7::text,
    thumbnail_url = nullif($8::text, ''),
    thumbnail_storage_key = nullif($9::text, '')
where id = $1::uuid;
`
