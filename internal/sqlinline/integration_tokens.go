package sqlinline

// Run endpoint tokens that are not provided through the environment.

const QSelectIntegrationToken = `--sql 3f6b2c1e-58a4-4c0d-9e71-2b8d4a6f0c19
select token
from integration_tokens
where provider = $1::text
  and token <> ''
limit 1;
`

const QUpsertIntegrationToken = `--sql c2a7e9d4-1b36-4f8e-a05c-7d91e3b6f284
insert into integration_tokens (id, provider, token, properties, created_at, updated_at)
values (gen_random_uuid(), $1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb), now(), now())
on conflict (provider) do update set
    token = excluded.token,
    properties = integration_tokens.properties || excluded.properties,
    updated_at = now();
`
